package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// blockingRunner は ctx が終わるまで戻らない Runner と起動回数を返す
func blockingRunner() (Runner, *atomic.Int32) {
	var runs atomic.Int32
	return func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return nil
	}, &runs
}

type fakeClock struct{ ns atomic.Int64 }

func (c *fakeClock) now() time.Time { return time.Unix(0, c.ns.Load()) }
func (c *fakeClock) advance(d time.Duration) { c.ns.Add(int64(d)) }

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
}

// ///////////////////////////////////////////////
// Ensure
// ///////////////////////////////////////////////

func TestManager_EnsureStartsOnce(t *testing.T) {
	run, runs := blockingRunner()
	m := NewManager(context.Background(), run, Config{})
	defer func() {
		m.Close()
		m.Wait()
	}()

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Ensure() {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if started.Load() != 1 {
		t.Errorf("Ensure returned true %d times, want 1", started.Load())
	}
	if m.State() != StateActive {
		t.Errorf("state = %s, want active", m.State())
	}
	// run は goroutine で始まるので少し待つ
	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() != 1 {
		t.Errorf("runner started %d times, want 1", runs.Load())
	}
}

func TestManager_RestartAfterClose(t *testing.T) {
	run, runs := blockingRunner()
	m := NewManager(context.Background(), run, Config{})

	if !m.Ensure() {
		t.Fatal("first Ensure should start")
	}
	m.Close()
	waitDone(t, m)
	if m.State() != StateClosed {
		t.Fatalf("state = %s, want closed", m.State())
	}

	if !m.Ensure() {
		t.Fatal("Ensure after close should start a new session")
	}
	m.Close()
	waitDone(t, m)
	if runs.Load() != 2 {
		t.Errorf("runner started %d times, want 2", runs.Load())
	}
}

func TestManager_EnsureAfterParentDone(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()
	run, _ := blockingRunner()
	m := NewManager(parent, run, Config{})
	if m.Ensure() {
		t.Error("Ensure should refuse once the parent is done")
	}
	if m.State() != StateStopped {
		t.Errorf("state = %s, want stopped", m.State())
	}
}

// ///////////////////////////////////////////////
// Shutdown paths
// ///////////////////////////////////////////////

func TestManager_ParentCancelClosesWithShutdown(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	run, _ := blockingRunner()

	causes := make(chan error, 1)
	m := NewManager(parent, run, Config{
		CheckInterval: 10 * time.Millisecond,
		OnClose:       func(cause error) { causes <- cause },
	})
	m.Ensure()
	cancel()
	waitDone(t, m)

	if cause := <-causes; !errors.Is(cause, ErrShutdown) {
		t.Errorf("cause = %v, want ErrShutdown", cause)
	}
}

func TestManager_IdleTimeout(t *testing.T) {
	clock := &fakeClock{}
	clock.ns.Store(time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC).UnixNano())
	run, _ := blockingRunner()

	causes := make(chan error, 1)
	m := NewManager(context.Background(), run, Config{
		IdleTimeout:   30 * time.Minute,
		CheckInterval: 5 * time.Millisecond,
		OnClose:       func(cause error) { causes <- cause },
	})
	m.now = clock.now
	m.Ensure()

	// 操作があれば無操作時間はリセットされる
	clock.advance(20 * time.Minute)
	m.Touch()
	clock.advance(20 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	if m.State() != StateActive {
		t.Fatalf("state = %s, want active while recently touched", m.State())
	}
	if got := m.IdleFor(); got != 20*time.Minute {
		t.Errorf("IdleFor = %s, want 20m", got)
	}

	clock.advance(15 * time.Minute)
	waitDone(t, m)
	if cause := <-causes; !errors.Is(cause, ErrIdleTimeout) {
		t.Errorf("cause = %v, want ErrIdleTimeout", cause)
	}
	if m.State() != StateClosed {
		t.Errorf("state = %s, want closed", m.State())
	}
}

func TestManager_RunnerErrorIsReported(t *testing.T) {
	boom := errors.New("gateway dropped")
	causes := make(chan error, 1)
	m := NewManager(context.Background(), func(ctx context.Context) error {
		return boom
	}, Config{OnClose: func(cause error) { causes <- cause }})

	m.Ensure()
	waitDone(t, m)
	if cause := <-causes; !errors.Is(cause, boom) {
		t.Errorf("cause = %v, want runner error", cause)
	}
}
