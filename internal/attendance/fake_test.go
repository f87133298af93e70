package attendance

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"attendance-bot/internal/chat"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

var errFake = errors.New("fake transport failure")

type fakeChat struct {
	mu        sync.Mutex
	nextID    int
	sent      []string
	reactions map[string][]string
	users     map[string][]chat.User // messageID + "|" + emoji
	extra     map[string][]string    // messageID → 追加で付いているリアクション
	failFetch map[string]bool
	failUsers map[string]bool // messageID + "|" + emoji
	failSend  int             // n 回目の送信で失敗（0 は失敗しない）
	fetches   int

	// onFetch はロックの外で FetchMessage の先頭に呼ばれる
	onFetch func(messageID string) error
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		reactions: make(map[string][]string),
		users:     make(map[string][]chat.User),
		extra:     make(map[string][]string),
		failFetch: make(map[string]bool),
		failUsers: make(map[string]bool),
	}
}

func (f *fakeChat) SendMessage(_ context.Context, channelID, content string) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend > 0 && len(f.sent)+1 == f.failSend {
		return chat.Message{}, errFake
	}
	f.nextID++
	f.sent = append(f.sent, content)
	return chat.Message{ID: "m" + strconv.Itoa(f.nextID), ChannelID: channelID, Content: content}, nil
}

func (f *fakeChat) AddReaction(_ context.Context, _, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[messageID] = append(f.reactions[messageID], emoji)
	return nil
}

func (f *fakeChat) FetchMessage(_ context.Context, channelID, messageID string) (chat.Message, error) {
	if f.onFetch != nil {
		if err := f.onFetch(messageID); err != nil {
			return chat.Message{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failFetch[messageID] {
		return chat.Message{}, chat.ErrNotFound
	}
	msg := chat.Message{ID: messageID, ChannelID: channelID}
	for _, e := range append(append([]string{}, f.reactions[messageID]...), f.extra[messageID]...) {
		msg.Reactions = append(msg.Reactions, chat.Reaction{Emoji: e, Count: len(f.users[messageID+"|"+e]) + 1})
	}
	return msg, nil
}

func (f *fakeChat) ReactionUsers(_ context.Context, _, messageID, emoji string) ([]chat.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUsers[messageID+"|"+emoji] {
		return nil, errFake
	}
	bot := chat.User{ID: "bot", Username: "attendance-bot", Bot: true}
	return append([]chat.User{bot}, f.users[messageID+"|"+emoji]...), nil
}

// react: day の投稿に names の人が emoji を付けたことにする
func (f *fakeChat) react(messageID, emoji string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.users[messageID+"|"+emoji] = append(f.users[messageID+"|"+emoji], chat.User{ID: "u-" + n, Username: n})
	}
}

func (f *fakeChat) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqID struct {
	mu sync.Mutex
	n  int
}

func (s *seqID) New() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "01TESTULID" + strconv.Itoa(s.n), nil
}

func tokyo(t testing.TB) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTZ)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

// 2025-01-15 は水曜。翌週は 2025/01/20（月）〜 2025/01/26（日）
var wednesday = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

var testTarget = Target{ServerID: "guild-1", ChannelID: "chan-1"}

func newTestService(t testing.TB, now time.Time) (*Service, *MemoryStore, *fakeChat) {
	store := NewMemoryStore()
	fc := newFakeChat()
	svc := NewService(store, fc, Options{
		Location: tokyo(t),
		Labels:   LabelsFor("ja"),
		Clock:    fixedClock{t: now},
		IDGen:    &seqID{},
	})
	return svc, store, fc
}
