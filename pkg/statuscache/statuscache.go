// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statuscache polls the scheduler for the state of every submitted
// job with a single query per refresh window.
package statuscache

import (
	"context"
	"strings"
	"sync"
	"time"

	"hpc-batch/pkg/joberrors"
	"hpc-batch/pkg/logging"
	"hpc-batch/pkg/shell"

	"github.com/rcrowley/go-metrics"
)

// DefaultDelay is the minimum time between two non-forced queries.
const DefaultDelay = 60 * time.Second

// Record is the last state reported by the scheduler for one job.
type Record struct {
	ID    string
	State string
	// ExitCode is meaningful only when HasExitCode is set.
	ExitCode    int
	HasExitCode bool
}

// Query describes how to ask a scheduler for the state of a set of jobs.
type Query struct {
	Command string
	// Args builds the command arguments for the active ids, in registration order.
	Args func(ids []string) []string
	// Parse decodes the command output into records keyed by id.
	Parse func(out []byte) (map[string]Record, error)
	// Valid lists the states of a job that is still alive. Anything else is
	// terminal.
	Valid []string
}

func (q Query) isValid(state string) bool {
	for _, v := range q.Valid {
		if strings.EqualFold(v, state) {
			return true
		}
	}
	return false
}

// Cache tracks registered and finished job ids.
type Cache struct {
	mu sync.Mutex

	runner shell.Runner
	query  Query
	delay  time.Duration
	now    func() time.Time

	registered   []string
	isRegistered map[string]bool
	finished     map[string]bool
	records      map[string]Record
	lastRefresh  time.Time
	lastAttempt  time.Time

	queries  metrics.Counter
	failures metrics.Counter
	hits     metrics.Counter
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithRegistry records cache metrics in r.
func WithRegistry(r metrics.Registry) Option {
	return func(c *Cache) {
		c.queries = metrics.GetOrRegisterCounter("statuscache.queries", r)
		c.failures = metrics.GetOrRegisterCounter("statuscache.query_failures", r)
		c.hits = metrics.GetOrRegisterCounter("statuscache.cache_hits", r)
	}
}

// New creates a cache issuing q through runner at most once per delay.
func New(runner shell.Runner, q Query, delay time.Duration, opts ...Option) *Cache {
	c := &Cache{
		runner:       runner,
		query:        q,
		delay:        delay,
		now:          time.Now,
		isRegistered: map[string]bool{},
		finished:     map[string]bool{},
		records:      map[string]Record{},
	}
	WithRegistry(metrics.NewRegistry())(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds id to the set of tracked jobs. Registering twice is a no-op.
func (c *Cache) Register(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRegistered[id] {
		return
	}
	c.isRegistered[id] = true
	c.registered = append(c.registered, id)
}

// SetDelay changes the refresh window.
func (c *Cache) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Delay returns the refresh window.
func (c *Cache) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// Update refreshes the cache and returns the known records.
//
// Unless force is set, no query is issued when the previous one happened less
// than the delay ago. Ids missing from the answer, or reported in a state
// outside the valid set, are marked finished. A failed query returns an
// error matching joberrors.ErrUnavailable together with the previous records;
// nothing is marked finished in that case.
func (c *Cache) Update(ctx context.Context, force bool) (map[string]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !force && !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.delay {
		c.hits.Inc(1)
		return c.snapshot(), nil
	}

	active := c.active()
	if len(active) == 0 {
		return c.snapshot(), nil
	}

	c.lastAttempt = now
	c.queries.Inc(1)
	res := c.runner.Run(ctx, c.query.Command, c.query.Args(active)...)
	if res.Failed() {
		c.failures.Inc(1)
		if res.Err != nil {
			return c.snapshot(), joberrors.WrapUnavailable(res.Err, "%s", c.query.Command)
		}
		return c.snapshot(), joberrors.Unavailablef("%s exited %d: %s", c.query.Command, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	got, err := c.query.Parse([]byte(res.Stdout))
	if err != nil {
		c.failures.Inc(1)
		return c.snapshot(), joberrors.WrapUnavailable(err, "parse %s output", c.query.Command)
	}

	for _, id := range active {
		rec, ok := got[id]
		if ok {
			c.records[id] = rec
		}
		if !ok || !c.query.isValid(rec.State) {
			c.finished[id] = true
			logging.Debug("job %s finished (reported=%t state=%s)", id, ok, rec.State)
		}
	}
	c.lastRefresh = now
	return c.snapshot(), nil
}

// IsDone reports whether id has been seen finished.
func (c *Cache) IsDone(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished[id]
}

// Record returns the last record received for id.
func (c *Cache) Record(id string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[id]
	return r, ok
}

// Active returns the registered ids not yet finished, in registration order.
func (c *Cache) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active()
}

// LastRefresh returns the time of the last successful query.
func (c *Cache) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefresh
}

func (c *Cache) active() []string {
	var ids []string
	for _, id := range c.registered {
		if !c.finished[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Cache) snapshot() map[string]Record {
	out := make(map[string]Record, len(c.records))
	for k, v := range c.records {
		out[k] = v
	}
	return out
}
