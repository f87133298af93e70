package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"attendance-bot/internal/chat"
)

// 1日ごとの成功/失敗。失敗しても兄弟の取得は止めない。
type fetchResult struct {
	key  string
	resp Responses
	err  error
}

type usersResult struct {
	label string
	names []string
	err   error
}

// LabelFor: 絵文字 → 回答ラベル（異体字セレクタは無視）
func LabelFor(emoji string) (string, bool) {
	e := strings.TrimSuffix(emoji, "\ufe0f")
	for _, m := range Markers {
		if m.Emoji == e {
			return m.Label, true
		}
	}
	return "", false
}

// Collect: message_id を持つ日のメッセージを並列取得し、リアクションした人を集計する。
// メッセージかリアクションのどちらかで取得に失敗した日は結果から外れ、保存済みの回答が残る
// （回答0件の日は空配列で残る）。
func (s *Service) Collect(ctx context.Context, channelID string, stored Meta) (Meta, error) {
	keys := make([]string, 0, len(stored))
	for k, d := range stored {
		if d.MessageID == "" {
			continue
		}
		keys = append(keys, k)
	}

	results := make([]fetchResult, len(keys))
	var g errgroup.Group
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			msg, err := s.chat.FetchMessage(ctx, channelID, stored[k].MessageID)
			if err != nil {
				results[i] = fetchResult{key: k, err: fmt.Errorf("fetch message: %w", err)}
				return nil
			}
			resp, err := s.collectResponses(ctx, channelID, msg)
			results[i] = fetchResult{key: k, resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make(Meta, len(results))
	for _, r := range results {
		if r.err != nil {
			slog.Warn("day skipped", "date", r.key, "message_id", stored[r.key].MessageID, "error", r.err)
			continue
		}
		day := stored[r.key]
		out[r.key] = DayEntry{
			Weekday:   day.Weekday,
			MessageID: day.MessageID,
			Responses: r.resp,
		}
	}

	if len(out) == 0 {
		return nil, ErrNoData("no collectible attendance messages")
	}
	return out, nil
}

// collectResponses: 1件でも ReactionUsers が失敗したら日ごと諦める（一部だけ空で上書きしない）
func (s *Service) collectResponses(ctx context.Context, channelID string, msg chat.Message) (Responses, error) {
	results := make([]usersResult, len(msg.Reactions))
	var g errgroup.Group
	for i, r := range msg.Reactions {
		i, r := i, r
		label, ok := LabelFor(r.Emoji)
		if !ok {
			continue
		}
		g.Go(func() error {
			users, err := s.chat.ReactionUsers(ctx, channelID, msg.ID, r.Emoji)
			if err != nil {
				results[i] = usersResult{label: label, err: err}
				return nil
			}
			names := make([]string, 0, len(users))
			for _, u := range users {
				if u.Bot {
					continue
				}
				names = append(names, u.Username)
			}
			results[i] = usersResult{label: label, names: names}
			return nil
		})
	}
	_ = g.Wait()

	resp := NewResponses()
	for _, r := range results {
		if r.label == "" {
			continue
		}
		if r.err != nil {
			return nil, fmt.Errorf("reaction users %s: %w", r.label, r.err)
		}
		resp[r.label] = append(resp[r.label], r.names...)
	}
	return resp, nil
}
