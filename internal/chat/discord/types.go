package discord

import (
	"encoding/json"

	"attendance-bot/internal/chat"
)

// REST / Gateway 共通の JSON 表現（使うフィールドのみ）

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

type apiEmoji struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

type apiReaction struct {
	Count int      `json:"count"`
	Emoji apiEmoji `json:"emoji"`
}

type apiMessage struct {
	ID        string        `json:"id"`
	ChannelID string        `json:"channel_id"`
	GuildID   string        `json:"guild_id,omitempty"`
	Content   string        `json:"content"`
	Author    apiUser       `json:"author"`
	Reactions []apiReaction `json:"reactions,omitempty"`
}

func (u apiUser) toModel() chat.User {
	return chat.User{ID: u.ID, Username: u.Username, Bot: u.Bot}
}

func (m apiMessage) toModel() chat.Message {
	out := chat.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Author:    m.Author.toModel(),
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, chat.Reaction{Emoji: r.Emoji.Name, Count: r.Count})
	}
	return out
}

// ===== gateway =====

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// intents: GUILDS | GUILD_MESSAGES | GUILD_MESSAGE_REACTIONS | MESSAGE_CONTENT
const defaultIntents = 1<<0 | 1<<9 | 1<<10 | 1<<15

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type readyData struct {
	User      apiUser `json:"user"`
	SessionID string  `json:"session_id"`
}
