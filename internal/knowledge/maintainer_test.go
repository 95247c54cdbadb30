package knowledge

import (
	"context"
	"testing"
	"time"
)

type fakeSessionPurger struct {
	purged  int
	maxIdle time.Duration
}

func (f *fakeSessionPurger) Purge(maxIdle time.Duration) int {
	f.maxIdle = maxIdle
	return f.purged
}

func TestMaintainer_RunOnce(t *testing.T) {
	q := newFakeQuerier()
	store := NewStore(q, 0, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	if _, err := store.Upsert(ctx, []Chunk{
		{Content: "stale", SourceType: SourceTypeQASite, Embedding: testEmbedding(1), ExpiresAt: &past},
		{Content: "fresh", SourceType: SourceTypeQASite, Embedding: testEmbedding(1)},
	}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	purger := &fakeSessionPurger{purged: 2}
	m := NewMaintainer(store, purger, time.Hour, 30*time.Minute, nil)

	if n := m.RunOnce(ctx); n != 1 {
		t.Errorf("RunOnce() = %d, want 1", n)
	}
	if purger.maxIdle != 30*time.Minute {
		t.Errorf("session purge maxIdle = %v, want 30m", purger.maxIdle)
	}

	// A second sweep finds nothing left to evict.
	if n := m.RunOnce(ctx); n != 0 {
		t.Errorf("second RunOnce() = %d, want 0", n)
	}
}

func TestMaintainer_RunOnce_NilSessions(t *testing.T) {
	m := NewMaintainer(NewStore(newFakeQuerier(), 0, nil), nil, time.Hour, time.Hour, nil)

	if n := m.RunOnce(context.Background()); n != 0 {
		t.Errorf("RunOnce() = %d, want 0", n)
	}
}

func TestMaintainer_Run_StopsOnCancel(t *testing.T) {
	m := NewMaintainer(NewStore(newFakeQuerier(), 0, nil), nil, 5*time.Millisecond, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
