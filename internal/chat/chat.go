// Package chat はチャット基盤（Discord）とのやり取りを抽象化する。
package chat

import (
	"context"
	"errors"
)

var (
	// ErrNotFound: メッセージ削除済みなど
	ErrNotFound = errors.New("chat: not found")
	// ErrForbidden: 権限剥奪など
	ErrForbidden = errors.New("chat: forbidden")
)

type User struct {
	ID       string
	Username string
	Bot      bool
}

type Reaction struct {
	Emoji string
	Count int
}

type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Content   string
	Author    User
	Reactions []Reaction
}

// Transport: Bot が使う送信・取得系の操作
type Transport interface {
	SendMessage(ctx context.Context, channelID, content string) (Message, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (Message, error)
	// ReactionUsers は emoji を付けた全ユーザーを返す（Bot も含む。除外は呼び出し側）
	ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]User, error)
}

// MessageHandler はゲートウェイから届いた新着メッセージを処理する。
type MessageHandler func(ctx context.Context, m Message)
