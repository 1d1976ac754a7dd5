package notices

import "time"

// NextRunTime computes the first fire time for a notice relative to its
// anchor. Upon At ignores the period.
func NextRunTime(anchor time.Time, timing Timing, period time.Duration) time.Time {
	switch timing {
	case TimingBefore:
		return anchor.Add(-period)
	case TimingAfter:
		return anchor.Add(period)
	default:
		return anchor
	}
}

// Advance moves a recurring notice's fire time forward by whole recurrence
// periods until it lands strictly after now. Stays on the original period
// grid: the result is current plus an integral number of periods, even when
// the sweep lagged by many periods. Requires recurrence > 0.
func Advance(current time.Time, recurrence time.Duration, now time.Time) time.Time {
	next := current.Add(recurrence)
	if next.After(now) {
		return next
	}
	steps := now.Sub(current)/recurrence + 1
	next = current.Add(steps * recurrence)
	if !next.After(now) {
		// now fell exactly on a period boundary
		next = next.Add(recurrence)
	}
	return next
}
