package store

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// createTestMirror creates a new SQLite mirror in a temp directory.
func createTestMirror(t *testing.T) *SQLMirror {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// at returns a local timestamp on 2025-06-01.
func at(hour, min, sec int) time.Time {
	return time.Date(2025, 6, 1, hour, min, sec, 0, time.Local)
}

// failingMirror rejects every insert.
type failingMirror struct {
	err     error
	inserts int
}

func (m *failingMirror) Name() string { return "failing" }

func (m *failingMirror) Insert(context.Context, Record) error {
	m.inserts++
	return m.err
}

func (m *failingMirror) Recent(context.Context, int) ([]Record, error) { return nil, m.err }

func (m *failingMirror) Close() error { return nil }

// memObjects is an in-memory objectClient.
type memObjects struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
	failPut error
}

func newMemObjects() *memObjects {
	return &memObjects{
		buckets: make(map[string]bool),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *memObjects) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = true
	return nil
}

func (m *memObjects) Put(_ context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	if !m.buckets[bucket] {
		return errors.New("NoSuchBucket")
	}
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func (m *memObjects) PutFile(ctx context.Context, bucket, key, path, contentType string) error {
	return m.Put(ctx, bucket, key, []byte(path), contentType)
}

func (m *memObjects) Keys(_ context.Context, _ string, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memObjects) Get(_ context.Context, _ string, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return data, nil
}
