package ceremony

import (
	"fmt"
	"time"
)

// Countdown is a millisecond delta split into days, hours, minutes and
// seconds for queue and cool-down reporting.
type Countdown struct {
	Days    int64
	Hours   int64
	Minutes int64
	Seconds int64
}

// CountdownFromMillis splits a non-negative millisecond delta. Negative
// inputs clamp to zero.
func CountdownFromMillis(ms int64) Countdown {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	return Countdown{
		Days:    secs / 86400,
		Hours:   (secs % 86400) / 3600,
		Minutes: (secs % 3600) / 60,
		Seconds: secs % 60,
	}
}

// CountdownFromDuration splits a duration the same way.
func CountdownFromDuration(d time.Duration) Countdown {
	return CountdownFromMillis(d.Milliseconds())
}

// String renders the countdown as dd:hh:mm:ss with two-digit components.
func (c Countdown) String() string {
	return fmt.Sprintf("%02d:%02d:%02d:%02d", c.Days, c.Hours, c.Minutes, c.Seconds)
}
