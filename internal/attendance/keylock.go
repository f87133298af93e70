package attendance

import "sync"

// keyLock: サーバー×週ごとの排他。使われなくなったキーは消す。
type keyLock struct {
	mu sync.Mutex
	m  map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{m: make(map[string]*keyLockEntry)}
}

// Lock は key を取得し、解放用の関数を返す。
func (l *keyLock) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &keyLockEntry{}
		l.m[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
