// Package bot はチャット上のコマンド（!start_week など）を出欠サービスにつなぐ。
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"attendance-bot/internal/attendance"
	"attendance-bot/internal/chat"
)

const (
	CmdStartWeek      = "start_week"
	CmdInitializeWeek = "initialize_week"
	CmdCollectWeek    = "collect_week"
)

// Service: Router が使う出欠サービスの操作
type Service interface {
	StartWeek(ctx context.Context, t attendance.Target) (attendance.Meta, error)
	CollectWeek(ctx context.Context, t attendance.Target) (attendance.Meta, error)
	Reset(ctx context.Context, serverID string) error
}

// Activity: コマンドを受けるたびに呼ばれる（無操作タイマーのリセット）
type Activity interface {
	Touch()
}

type Config struct {
	Prefix  string
	ViewURL string
}

type Router struct {
	cfg      Config
	svc      Service
	chat     chat.Transport
	activity Activity
	commands map[string]func(ctx context.Context, t attendance.Target)
}

func NewRouter(cfg Config, svc Service, tr chat.Transport, activity Activity) *Router {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	r := &Router{cfg: cfg, svc: svc, chat: tr, activity: activity}
	r.commands = map[string]func(ctx context.Context, t attendance.Target){
		CmdStartWeek:      r.StartWeek,
		CmdInitializeWeek: r.InitializeWeek,
		CmdCollectWeek:    r.CollectWeek,
	}
	return r
}

// ParseCommand: "!start_week" → "start_week"。プレフィックスが無ければ ok=false
func ParseCommand(prefix, content string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// HandleMessage は chat.MessageHandler として gateway に渡す
func (r *Router) HandleMessage(ctx context.Context, m chat.Message) {
	// Bot 自身・DM は対象外
	if m.Author.Bot || m.GuildID == "" {
		return
	}
	name, ok := ParseCommand(r.cfg.Prefix, m.Content)
	if !ok {
		return
	}
	cmd, ok := r.commands[name]
	if !ok {
		slog.Debug("unknown command", "name", name)
		return
	}
	if r.activity != nil {
		r.activity.Touch()
	}
	slog.Info("command", "name", name, "author", m.Author.Username, "server_id", m.GuildID, "channel_id", m.ChannelID)
	cmd(ctx, attendance.Target{ServerID: m.GuildID, ChannelID: m.ChannelID})
}

// StartWeek はコマンドとスケジューラの両方から呼ばれる
func (r *Router) StartWeek(ctx context.Context, t attendance.Target) {
	if _, err := r.svc.StartWeek(ctx, t); err != nil {
		r.reply(ctx, t, failureText(err))
		return
	}
	r.reply(ctx, t, "✅ 翌週の出席確認メッセージを曜日ごとに送信しました！スタンプを押してください。")
}

func (r *Router) InitializeWeek(ctx context.Context, t attendance.Target) {
	err := r.svc.Reset(ctx, t.ServerID)
	if err != nil {
		if attendance.CodeOf(err) == attendance.CodeNotFound {
			r.reply(ctx, t, "⚠️ 初期化対象のデータが見つかりませんでした。")
			return
		}
		r.reply(ctx, t, failureText(err))
		return
	}
	r.reply(ctx, t, fmt.Sprintf("🧹 最新週の出欠記録を初期化しました。再度%s%sを実行できます。", r.cfg.Prefix, CmdStartWeek))
}

func (r *Router) CollectWeek(ctx context.Context, t attendance.Target) {
	r.reply(ctx, t, "データ収集中...")
	if _, err := r.svc.CollectWeek(ctx, t); err != nil {
		switch attendance.CodeOf(err) {
		case attendance.CodeNoStoredMeta:
			r.reply(ctx, t, fmt.Sprintf("⚠️ 出席メッセージ情報が見つかりません。事前に%s%sが実行されているか確認してください。", r.cfg.Prefix, CmdStartWeek))
		default:
			r.reply(ctx, t, failureText(err))
		}
		return
	}
	r.reply(ctx, t, "✅ 完了しました！こちらからアクセスできます：\n"+r.viewURL(t.ServerID))
}

func (r *Router) viewURL(serverID string) string {
	u, err := url.JoinPath(r.cfg.ViewURL, "from_discord", serverID)
	if err != nil {
		return strings.TrimRight(r.cfg.ViewURL, "/") + "/from_discord/" + serverID
	}
	return u
}

func (r *Router) reply(ctx context.Context, t attendance.Target, text string) {
	if _, err := r.chat.SendMessage(ctx, t.ChannelID, text); err != nil {
		slog.Error("status message failed", "channel_id", t.ChannelID, "error", err)
	}
}

func failureText(err error) string {
	msg := err.Error()
	if api, ok := err.(*attendance.APIError); ok {
		msg = api.Message
	}
	switch attendance.CodeOf(err) {
	case attendance.CodeAlreadyInitialized:
		return "⚠️ 今週の出欠記録はすでに開始されています。再実行はできません。"
	case attendance.CodeNoData:
		return "⚠️ 出席メッセージが1件もありません。"
	case attendance.CodeDateParse:
		return "⚠️ 日付の解析に失敗しました: " + msg
	case attendance.CodeStore, attendance.CodeConflict:
		return "❌ 保存に失敗しました: " + msg
	case attendance.CodeTransport:
		return "❌ メッセージの送信に失敗しました: " + msg
	default:
		return "❌ エラーが発生しました: " + msg
	}
}
