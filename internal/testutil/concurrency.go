package testutil

import (
	"sync"
	"time"
)

// ExecutionRecord holds the start and end times of one unit of work.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// ConcurrencyProbe records how many calls run at once.
type ConcurrencyProbe struct {
	mu      sync.Mutex
	running int
	peak    int
	records map[string]*ExecutionRecord
}

// NewConcurrencyProbe returns an empty probe.
func NewConcurrencyProbe() *ConcurrencyProbe {
	return &ConcurrencyProbe{records: make(map[string]*ExecutionRecord)}
}

// Enter marks the start of work on id. Call the returned func when done.
func (p *ConcurrencyProbe) Enter(id string) func() {
	p.mu.Lock()
	p.running++
	p.peak = max(p.peak, p.running)
	rec := &ExecutionRecord{Start: time.Now()}
	p.records[id] = rec
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.running--
		rec.End = time.Now()
	}
}

// Peak returns the highest number of simultaneous calls seen.
func (p *ConcurrencyProbe) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Records returns a copy of the recorded executions keyed by id.
func (p *ConcurrencyProbe) Records() map[string]ExecutionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]ExecutionRecord, len(p.records))
	for id, r := range p.records {
		out[id] = *r
	}
	return out
}
