package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"attendance-bot/internal/chat"
)

var (
	ErrReconnectRequested = errors.New("discord: gateway requested reconnect")
	ErrInvalidSession     = errors.New("discord: invalid session")
	ErrHeartbeatTimeout   = errors.New("discord: heartbeat not acknowledged")
)

const gatewayReadLimit = 4 << 20

type GatewayConfig struct {
	Token   string
	URL     string
	Intents int

	// Connect の再接続待ち。0 なら 1s から倍々で最大 1m
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Gateway は1回分のゲートウェイ接続。Run が返ったら使い捨てる。
type Gateway struct {
	cfg GatewayConfig

	seq   atomic.Int64
	acked atomic.Bool

	mu   sync.Mutex
	self chat.User
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Intents == 0 {
		cfg.Intents = defaultIntents
	}
	g := &Gateway{cfg: cfg}
	g.seq.Store(-1)
	return g
}

// Self: READY で受け取った Bot 自身のユーザー
func (g *Gateway) Self() chat.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.self
}

// Run は ctx が終わるまで MESSAGE_CREATE を handler に流す。
// ctx のキャンセルによる終了は nil を返す。
func (g *Gateway) Run(ctx context.Context, handler chat.MessageHandler) error {
	conn, _, err := websocket.Dial(ctx, g.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(gatewayReadLimit)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var hello gatewayPayload
	if err := wsjson.Read(runCtx, conn, &hello); err != nil {
		return fmt.Errorf("gateway hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("gateway: unexpected first opcode %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		return fmt.Errorf("gateway hello: %w", err)
	}

	if err := g.identify(runCtx, conn); err != nil {
		return err
	}

	var handlers sync.WaitGroup
	defer handlers.Wait()

	g.acked.Store(true)
	go g.heartbeatLoop(runCtx, cancel, conn, time.Duration(hd.HeartbeatInterval)*time.Millisecond)

	for {
		var p gatewayPayload
		if err := wsjson.Read(runCtx, conn, &p); err != nil {
			if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
				return nil
			}
			return fmt.Errorf("gateway read: %w", err)
		}
		if p.S != nil {
			g.seq.Store(*p.S)
		}

		switch p.Op {
		case opDispatch:
			g.dispatch(runCtx, &handlers, p, handler)
		case opHeartbeat:
			if err := g.sendHeartbeat(runCtx, conn); err != nil {
				return err
			}
		case opHeartbeatACK:
			g.acked.Store(true)
		case opReconnect:
			return ErrReconnectRequested
		case opInvalidSession:
			return ErrInvalidSession
		}
	}
}

func (g *Gateway) identify(ctx context.Context, conn *websocket.Conn) error {
	d, err := json.Marshal(identifyData{
		Token:   g.cfg.Token,
		Intents: g.cfg.Intents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "attendance-bot",
			Device:  "attendance-bot",
		},
	})
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, gatewayPayload{Op: opIdentify, D: d}); err != nil {
		return fmt.Errorf("gateway identify: %w", err)
	}
	return nil
}

func (g *Gateway) heartbeatLoop(ctx context.Context, cancel context.CancelCauseFunc, conn *websocket.Conn, interval time.Duration) {
	if interval <= 0 {
		interval = 40 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// 前回の ACK が無ければゾンビ接続とみなす
			if !g.acked.Swap(false) {
				cancel(ErrHeartbeatTimeout)
				return
			}
			if err := g.sendHeartbeat(ctx, conn); err != nil {
				cancel(err)
				return
			}
		}
	}
}

func (g *Gateway) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	var d json.RawMessage = []byte("null")
	if s := g.seq.Load(); s >= 0 {
		d = []byte(fmt.Sprint(s))
	}
	if err := wsjson.Write(ctx, conn, gatewayPayload{Op: opHeartbeat, D: d}); err != nil {
		return fmt.Errorf("gateway heartbeat: %w", err)
	}
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, wg *sync.WaitGroup, p gatewayPayload, handler chat.MessageHandler) {
	switch p.T {
	case "READY":
		var rd readyData
		if err := json.Unmarshal(p.D, &rd); err != nil {
			slog.Warn("gateway: bad READY payload", "error", err)
			return
		}
		g.mu.Lock()
		g.self = rd.User.toModel()
		g.mu.Unlock()
		slog.Info("logged in", "user", rd.User.Username, "id", rd.User.ID)

	case "MESSAGE_CREATE":
		var m apiMessage
		if err := json.Unmarshal(p.D, &m); err != nil {
			slog.Warn("gateway: bad MESSAGE_CREATE payload", "error", err)
			return
		}
		if self := g.Self(); self.ID != "" && m.Author.ID == self.ID {
			return
		}
		// コマンド処理は時間がかかるので読み取りループを止めない
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler(ctx, m.toModel())
		}()
	}
}
