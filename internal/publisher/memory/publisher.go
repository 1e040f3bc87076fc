// Package memory contains an in-memory publisher for tests.
package memory

import (
	"context"
	"sync"
)

// Publisher records published job IDs for inspection.
type Publisher struct {
	mu     sync.RWMutex
	jobIDs []string
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the job ID.
func (p *Publisher) Publish(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobIDs = append(p.jobIDs, jobID)
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }

// JobIDs returns the recorded publishes.
func (p *Publisher) JobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.jobIDs))
	copy(out, p.jobIDs)
	return out
}
