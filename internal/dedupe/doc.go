// Package dedupe provides a time-based cache that remembers the result of a
// request by key, so a retried request within the window gets the original
// result instead of being processed twice.
package dedupe
