package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Clock drives the daily production tick from wall-clock time. It fires
// OnDay at most once per UTC calendar day.
type Clock struct {
	Interval time.Duration // How often the day boundary is checked
	Now      func() time.Time

	// OnDay runs the day's work. Returning an error leaves the day
	// un-ticked so the next check retries it.
	OnDay func(ctx context.Context, now time.Time) error

	mu      sync.Mutex
	lastDay string
	running bool
	stop    chan struct{}
}

// NewClock creates a clock that checks once a minute.
func NewClock(lastDay string) *Clock {
	return &Clock{
		Interval: time.Minute,
		Now:      time.Now,
		lastDay:  lastDay,
	}
}

// LastDay returns the most recent day ticked, as YYYY-MM-DD.
func (c *Clock) LastDay() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDay
}

// Run blocks, checking the day boundary every Interval until ctx ends or
// Stop is called.
func (c *Clock) Run(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	slog.Info("daily clock started", "interval", c.Interval, "last_day", c.LastDay())
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("daily clock stopped", "last_day", c.LastDay())
			return
		case <-stop:
			slog.Info("daily clock stopped", "last_day", c.LastDay())
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Stop halts Run.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stop)
		c.running = false
	}
}

// Check fires OnDay if the current UTC day has not been ticked yet.
// Reports whether it fired successfully.
func (c *Clock) Check(ctx context.Context) bool {
	now := c.Now().UTC()
	day := now.Format(time.DateOnly)

	c.mu.Lock()
	defer c.mu.Unlock()
	if day <= c.lastDay || c.OnDay == nil {
		return false
	}
	if err := c.OnDay(ctx, now); err != nil {
		slog.Error("daily tick failed", "day", day, "error", err)
		return false
	}
	c.lastDay = day
	return true
}
