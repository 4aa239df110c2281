package lending

import "time"

// Clock supplies the current time. It exists so that every time-dependent
// decision (due dates, overdue detection, fines) can be tested
// deterministically with a substitutable implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now, in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
