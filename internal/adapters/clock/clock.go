package clock

import "time"

// Clock is the wall-clock source used to timestamp command envelopes.
type Clock struct{}

// NowUnix returns the current time in unix seconds.
func (Clock) NowUnix() int64 {
	return time.Now().Unix()
}
