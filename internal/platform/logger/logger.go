// Package logger は Bot プロセス全体で使う slog ハンドラを提供する。
//
// 出力形式:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, group.key=value
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// ParseLevel: 不明な文字列は info
func ParseLevel(s string) slog.Level {
	var l slog.Level
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "warning":
		return slog.LevelWarn
	default:
		if err := l.UnmarshalText([]byte(v)); err != nil {
			return slog.LevelInfo
		}
		return l
	}
}

// Handler は [LEVEL] 付きの1行形式で書き出す slog.Handler。
// With で渡された属性は呼ばれた時点で文字列にしておく。
type Handler struct {
	out   *output
	level slog.Leveler

	fixed  string // With 済みの "k=v, k2=v2"
	prefix string // WithGroup 済みのキー接頭辞（"ws." など）
}

// 派生ハンドラ間で共有する書き込み先
type output struct {
	mu sync.Mutex
	w  io.Writer
}

func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	return &Handler{out: &output{w: w}, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format(timeLayout))
	b.WriteString(" [")
	b.WriteString(r.Level.String())
	b.WriteString("] ")
	b.WriteString(r.Message)

	attrs := h.fixed
	r.Attrs(func(a slog.Attr) bool {
		attrs = appendAttr(attrs, h.prefix, a)
		return true
	})
	if attrs != "" {
		b.WriteString(" | ")
		b.WriteString(attrs)
	}
	b.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nh := *h
	for _, a := range attrs {
		nh.fixed = appendAttr(nh.fixed, h.prefix, a)
	}
	return &nh
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

// appendAttr: グループは "g.key" に平たくする。空の属性は捨てる
func appendAttr(dst, prefix string, a slog.Attr) string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = appendAttr(dst, p, ga)
		}
		return dst
	}
	if dst != "" {
		dst += ", "
	}
	return dst + prefix + a.Key + "=" + formatValue(a.Value)
}

// 空白を含む値だけクォートする
func formatValue(v slog.Value) string {
	s := v.String()
	if v.Kind() == slog.KindTime {
		s = v.Time().UTC().Format(timeLayout)
	}
	if s == "" || strings.ContainsAny(s, " ,=\n") {
		return strconv.Quote(s)
	}
	return s
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New: path が空なら stderr のみ、指定があれば stderr とローテーションファイルの両方へ出す。
// 返す io.Closer は終了時に必ず Close すること。
func New(path string, level slog.Level, maxSizeMB int) (*slog.Logger, io.Closer) {
	if path == "" {
		return slog.New(NewHandler(os.Stderr, level)), nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
	}
	return slog.New(NewHandler(io.MultiWriter(os.Stderr, lj), level)), lj
}
