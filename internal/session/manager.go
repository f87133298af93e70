// Package session は Bot セッションの起動・停止を1か所で管理する。
//
// 停止のきっかけは2つ（親 context の終了 = シグナル、一定時間の無操作）で、
// どちらも stop を通ってセッションの context をキャンセルする。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrIdleTimeout = errors.New("session: idle timeout")
	ErrShutdown    = errors.New("session: shutdown requested")
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "stopped"
	}
}

// Runner はセッション本体。ctx が終わるまで戻らない。
type Runner func(ctx context.Context) error

type Config struct {
	// IdleTimeout が 0 以下なら無操作での停止はしない
	IdleTimeout   time.Duration
	CheckInterval time.Duration
	// OnClose: セッション終了後の後始末
	OnClose func(cause error)
}

type Manager struct {
	parent context.Context
	run    Runner
	cfg    Config
	now    func() time.Time

	state        atomic.Int32
	lastActivity atomic.Int64

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewManager(parent context.Context, run Runner, cfg Config) *Manager {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	m := &Manager{parent: parent, run: run, cfg: cfg, now: time.Now}
	m.state.Store(int32(StateStopped))
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Touch: ユーザー操作があったことを記録する
func (m *Manager) Touch() {
	m.lastActivity.Store(m.now().UnixNano())
}

func (m *Manager) IdleFor() time.Duration {
	last := m.lastActivity.Load()
	if last == 0 {
		return 0
	}
	return m.now().Sub(time.Unix(0, last))
}

// Ensure: 未起動（または終了済み）なら新しいセッションを起動する。
// 同時に呼ばれても起動するのは1つだけで、起動した呼び出しだけ true を返す。
func (m *Manager) Ensure() bool {
	if m.parent.Err() != nil {
		return false
	}
	if !m.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) &&
		!m.state.CompareAndSwap(int32(StateClosed), int32(StateStarting)) {
		return false
	}

	// 親のキャンセルは watch 経由で stop に流すので直接は継承しない
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(m.parent))
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.Touch()
	m.state.Store(int32(StateActive))
	slog.Info("bot session started")

	go m.watch(ctx)
	go func() {
		defer close(done)
		err := m.run(ctx)
		cause := context.Cause(ctx)
		cancel(nil)
		if err != nil {
			slog.Error("bot session ended with error", "error", err)
		}
		if cause == nil {
			cause = err
		}
		slog.Info("bot session closed", "cause", cause)
		if m.cfg.OnClose != nil {
			m.cfg.OnClose(cause)
		}
		m.state.Store(int32(StateClosed))
	}()
	return true
}

// Close: 現在のセッションを止める（外部からの停止要求）
func (m *Manager) Close() {
	m.stop(ErrShutdown)
}

// Wait: 現在のセッションの終了を待つ
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Manager) stop(cause error) {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

func (m *Manager) watch(ctx context.Context) {
	t := time.NewTicker(m.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.parent.Done():
			m.stop(ErrShutdown)
			return
		case <-t.C:
			if m.cfg.IdleTimeout <= 0 {
				continue
			}
			if idle := m.IdleFor(); idle > m.cfg.IdleTimeout {
				slog.Info("bot session idle, closing", "idle_minutes", int(idle.Minutes()))
				m.stop(ErrIdleTimeout)
				return
			}
		}
	}
}
