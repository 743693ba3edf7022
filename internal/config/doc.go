// Package config handles configuration loading for the chatsync client.
//
// # Configuration File
//
// FindPath looks in order at:
//
//  1. Path from CHATSYNC_CONFIG environment variable
//  2. ./chatsync.yaml (current directory)
//  3. ~/.config/chatsync/config.yaml
//
// Without a file, Default is used.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	database:
//	  path: "${HOME}/chat/ledger.db"
//
// # Example
//
//	database:
//	  path: "./ledger.db"
//	session:
//	  page_size: 30
//	  queue_size: 64
//	  self: "me"
//	engine:
//	  kind: "local"
//	  fetch_timeout: "30s"
//	  send_timeout: "30s"
//	logging:
//	  level: "info"
//	  format: "text"
//	metrics:
//	  enabled: true
//	  addr: "127.0.0.1:9090"
//	  path: "/metrics"
package config
