package testutil

import (
	"sync"
	"time"

	"lightmon/internal/lightmon"
)

// FixedDate is the instant FixedClock starts at, in runStartedAt form.
const FixedDate = "2024-01-15T10:30:00.000Z"

// StubClock is a lightmon.Clock that only moves when a test moves it.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ lightmon.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// StubClockAt starts a clock at a report date such as
// "2019-01-20T12:00:00.000Z". It panics on a malformed date.
func StubClockAt(date string) *StubClock {
	t, err := lightmon.ParseDate(date)
	if err != nil {
		panic("testutil: bad clock date " + date + ": " + err.Error())
	}
	return NewStubClock(t.UTC())
}

// FixedClock returns a clock set to FixedDate.
func FixedClock() *StubClock {
	return StubClockAt(FixedDate)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Date is the current time as a report date.
func (c *StubClock) Date() string {
	return lightmon.FormatDate(c.Now())
}
