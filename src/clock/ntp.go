// Package clock provides the wall clock the scheduler classifies, corrected
// by an offset measured against NTP servers.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// ErrNoServers is returned by Resync when no NTP server is configured
var ErrNoServers = errors.New("no ntp servers configured")

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// queryFunc matches ntp.QueryWithOptions
type queryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// NTPClock is the system clock plus the offset from the last successful NTP
// query. Until the first sync it returns the uncorrected system time.
type NTPClock struct {
	servers []string
	timeout time.Duration
	query   queryFunc
	now     func() time.Time

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time
	server   string
}

// NewNTPClock creates a clock that syncs against the given servers in order.
// Empty server names are skipped.
func NewNTPClock(timeout time.Duration, servers ...string) *NTPClock {
	var hosts []string
	for _, s := range servers {
		if s != "" {
			hosts = append(hosts, s)
		}
	}
	return &NTPClock{
		servers: hosts,
		timeout: timeout,
		query:   ntp.QueryWithOptions,
		now:     time.Now,
	}
}

// Now returns the corrected time
func (c *NTPClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}

// Offset returns the correction applied by Now
func (c *NTPClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// LastSync returns the corrected time of the last successful sync and the
// server that answered. The time is zero if the clock never synced.
func (c *NTPClock) LastSync() (time.Time, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync, c.server
}

// Resync queries each server in order and adopts the first valid answer.
// On failure the previous offset is kept.
func (c *NTPClock) Resync(ctx context.Context) error {
	if len(c.servers) == 0 {
		return ErrNoServers
	}

	var errs []error
	for _, host := range c.servers {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.query(host, ntp.QueryOptions{Timeout: c.timeout})
		if err == nil {
			err = resp.Validate()
		}
		if err != nil {
			log.Printf("NTP query to %s failed: %v\n", host, err)
			errs = append(errs, fmt.Errorf("%s: %w", host, err))
			continue
		}

		c.mu.Lock()
		c.offset = resp.ClockOffset
		c.server = host
		c.lastSync = c.now().Add(c.offset)
		c.mu.Unlock()

		log.Printf("Clock synced to %s (offset %v)\n", host, resp.ClockOffset)
		return nil
	}
	return fmt.Errorf("ntp resync failed: %w", errors.Join(errs...))
}

// Worker serves resync requests so slow NTP queries never stall the
// scheduler loop. The first sync runs at startup.
func Worker(ctx context.Context, c *NTPClock, requests <-chan struct{}) {
	resync := func() {
		if err := c.Resync(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Clock: %v\n", err)
		}
	}

	resync()
	for {
		select {
		case <-requests:
			resync()
		case <-ctx.Done():
			return
		}
	}
}

// Fixed is a Clock that always returns the same instant. Set moves it.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed creates a fixed clock at t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// Now returns the fixed instant
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set moves the clock to t
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}

// Advance moves the clock forward by d
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}
