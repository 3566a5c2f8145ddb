package util

import "time"

// TimeOperationMicroseconds runs op and returns its duration in
// microseconds, for attaching call latency to metric points.
func TimeOperationMicroseconds(op func()) int64 {
	start := time.Now()
	op()
	return time.Since(start).Microseconds()
}
