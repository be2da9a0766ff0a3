package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable task ids: "<prefix>-1", "<prefix>-2", ...
//
// This enables golden comparison of API responses that embed task ids.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. If prefix is empty, "task" is used.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "task"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
//
// Implements task.IDGenerator.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// FixedID always returns the same id. Used to exercise id collisions.
type FixedID string

// Generate returns the fixed id.
func (f FixedID) Generate() string {
	return string(f)
}
