package discord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nhooyr.io/websocket"

	"attendance-bot/internal/chat"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = time.Minute
)

// 張り直しても同じ結果になる close code（トークン不正・intent 不足など）
var fatalCloseCodes = map[websocket.StatusCode]bool{
	4004: true, // authentication failed
	4010: true, // invalid shard
	4011: true, // sharding required
	4012: true, // invalid API version
	4013: true, // invalid intents
	4014: true, // disallowed intents
}

// IsFatal: 再接続しても回復しないエラーか
func IsFatal(err error) bool {
	return fatalCloseCodes[websocket.CloseStatus(err)]
}

// Connect は ctx が終わるまでゲートウェイにつなぎ続ける。
// RECONNECT / INVALID_SESSION / heartbeat 切れ / 切断のたびに新しい Gateway で IDENTIFY からやり直す。
// ctx の終了なら nil、IsFatal なエラーならそのエラーを返す。
func Connect(ctx context.Context, cfg GatewayConfig, handler chat.MessageHandler) error {
	minWait, maxWait := cfg.MinBackoff, cfg.MaxBackoff
	if minWait <= 0 {
		minWait = defaultMinBackoff
	}
	if maxWait < minWait {
		maxWait = max(defaultMaxBackoff, minWait)
	}

	wait := minWait
	for attempt := 1; ; attempt++ {
		gw := NewGateway(cfg)
		err := gw.Run(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("discord: gateway closed")
		}
		if IsFatal(err) {
			slog.Error("gateway closed, not reconnecting", "error", err, "attempt", attempt)
			return err
		}
		// READY まで届いた接続は健全だったとみなして待ち時間を戻す
		if gw.Self().ID != "" {
			wait = minWait
		}
		slog.Warn("gateway disconnected, reconnecting", "error", err, "attempt", attempt, "wait", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		wait = min(wait*2, maxWait)
	}
}
