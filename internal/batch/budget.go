// Package batch runs resumable, time-boxed passes over a list of work items.
package batch

import "time"

// DefaultBudget keeps a batch under typical cron and serverless limits.
const DefaultBudget = 55 * time.Second

// Budget is a wall-clock deadline consulted every CheckEvery items.
type Budget struct {
	deadline   time.Time
	checkEvery int
	now        func() time.Time
}

// NewBudget arms a deadline d after now(). A nil clock means time.Now.
func NewBudget(d time.Duration, checkEvery int, now func() time.Time) Budget {
	if now == nil {
		now = time.Now
	}
	if d <= 0 {
		d = DefaultBudget
	}
	if checkEvery < 1 {
		checkEvery = 1
	}
	return Budget{deadline: now().Add(d), checkEvery: checkEvery, now: now}
}

// Deadline returns the armed deadline.
func (b Budget) Deadline() time.Time {
	return b.deadline
}

// Due reports whether the deadline should be consulted after processed items.
func (b Budget) Due(processed int) bool {
	return processed > 0 && processed%b.checkEvery == 0
}

// Expired reports whether the deadline has passed.
func (b Budget) Expired() bool {
	return !b.now().Before(b.deadline)
}

// Remaining returns the time left before the deadline, never negative.
func (b Budget) Remaining() time.Duration {
	if d := b.deadline.Sub(b.now()); d > 0 {
		return d
	}
	return 0
}
