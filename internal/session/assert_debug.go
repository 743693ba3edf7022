//go:build chatsyncdebug

// ABOUTME: Development build flag enabling loud failures for programming errors
// ABOUTME: Selected with -tags chatsyncdebug

package session

const assertions = true
