// Package clock abstracts the current time so that every time-dependent
// component can be driven by a virtual clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is an injectable source of wall-clock time and the UTC calendar day.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NowMs returns the current time in Unix milliseconds.
	NowMs() int64
	// TodayKey returns the current UTC calendar day as YYYY-MM-DD.
	TodayKey() string
}

// DayKey formats a time as the UTC calendar-day key used for daily P&L
// bucketing.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// System is the production clock backed by time.Now.
type System struct{}

func (System) Now() time.Time   { return time.Now() }
func (System) NowMs() int64     { return time.Now().UnixMilli() }
func (System) TodayKey() string { return DayKey(time.Now()) }

// Virtual is a manually-advanced clock for tests. Safe for concurrent use.
type Virtual struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtual creates a virtual clock starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) NowMs() int64 {
	return v.Now().UnixMilli()
}

func (v *Virtual) TodayKey() string {
	return DayKey(v.Now())
}

// Advance moves the clock forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
}

// Set jumps the clock to an absolute time.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = t
}
