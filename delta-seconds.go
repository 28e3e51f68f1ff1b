package cachecontrol

import (
	"math"
	"strconv"
	"time"
)

// §  1.2.2. Delta Seconds
// §
// §  The delta-seconds rule specifies a non-negative integer, representing time
// §  in seconds.
// §
// §      delta-seconds  = 1*DIGIT
// §
// §  A recipient parsing a delta-seconds value and converting it to binary form
// §  ought to use an arithmetic type of at least 31 bits of non-negative integer
// §  range. If a cache receives a delta-seconds value greater than the greatest
// §  integer it can represent, or if any of its subsequent calculations overflows,
// §  the cache MUST consider the value to be 2147483648 (231) or the greatest
// §  positive integer it can conveniently represent.

// maxDeltaSeconds is the largest seconds count a time.Duration can hold,
// roughly 292 years.
const maxDeltaSeconds = math.MaxInt64 / uint64(time.Second)

// deltaSeconds parses a delta-seconds string into a duration. The boolean is
// false when the string is not a plain digit sequence (signs and whitespace
// included) or the value does not fit a time.Duration; directives carrying
// such an argument are treated as absent rather than being clamped, so that
// a garbled value never masquerades as a real one.
func deltaSeconds(secondsStr string) (time.Duration, bool) {
	seconds, err := strconv.ParseUint(secondsStr, 10, 64)
	if err != nil || seconds > maxDeltaSeconds {
		return 0, false
	}
	return time.Second * time.Duration(seconds), true
}
