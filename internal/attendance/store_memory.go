package attendance

import (
	"context"
	"sync"
	"time"
)

// MemoryStore: テストと database.driver=memory 用。読み書きとも複製を返す。
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[int64]*Record
	nextID int64
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*Record), now: time.Now}
}

func (m *MemoryStore) FindByWeek(_ context.Context, serverID string, weekStart time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := dateOnly(weekStart)
	for _, r := range m.rows {
		if r.ServerID == serverID && r.WeekStart.Equal(ws) {
			return r.clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Latest(_ context.Context, serverID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Record
	for _, r := range m.rows {
		if r.ServerID != serverID {
			continue
		}
		if latest == nil || r.WeekStart.After(latest.WeekStart) {
			latest = r
		}
	}
	return latest.clone(), nil
}

func (m *MemoryStore) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := dateOnly(rec.WeekStart)
	for _, r := range m.rows {
		if r.ServerID == rec.ServerID && r.WeekStart.Equal(ws) {
			return ErrDuplicateRecord
		}
	}
	m.nextID++
	rec.ID = m.nextID
	now := m.now().UTC()
	c := rec.clone()
	c.WeekStart = ws
	c.CreatedAt, c.UpdatedAt = now, now
	m.rows[c.ID] = c
	return nil
}

func (m *MemoryStore) UpdateMeta(_ context.Context, id int64, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound("record not found")
	}
	r.Meta = meta.clone()
	r.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound("record already deleted")
	}
	delete(m.rows, id)
	return nil
}

// InTx: 直列化は Service 側の keyLock に任せる
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	return fn(ctx, m)
}

// Count: テスト用
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
