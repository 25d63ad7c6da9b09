package utils

import "time"

// FreshWithin reports whether a unix-seconds timestamp is newer than
// the window. Future timestamps count as fresh: a submitter's clock
// may run slightly ahead of ours.
func FreshWithin(timestamp int64, window time.Duration) bool {
	return time.Since(time.Unix(timestamp, 0)) < window
}
