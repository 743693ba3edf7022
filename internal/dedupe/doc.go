// Package dedupe remembers recently seen keys, such as Matrix event IDs,
// so the same event is not processed twice within a TTL window.
//
// The cache is bounded by size as well as time. When full, the key marked
// least recently is evicted first.
package dedupe
