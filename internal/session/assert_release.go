//go:build !chatsyncdebug

// ABOUTME: Release build flag: programming errors are logged and return empty results
// ABOUTME: Default when the chatsyncdebug tag is not set

package session

const assertions = false
