// Package discord は chat.Transport の Discord 実装（REST v10 とゲートウェイ）。
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"attendance-bot/internal/chat"
)

const (
	userAgent        = "DiscordBot (https://github.com/attendance-bot, 1.0)"
	reactionPageSize = 100
)

type RESTConfig struct {
	Token    string
	APIBase  string
	RetryMax int
	Timeout  time.Duration
}

// REST は Discord の REST API を叩く chat.Transport。
type REST struct {
	base   string
	token  string
	client *retryablehttp.Client
}

var _ chat.Transport = (*REST)(nil)

func NewREST(cfg RESTConfig) *REST {
	c := retryablehttp.NewClient()
	// 失敗は早めに返す（429/5xx のみ retryablehttp 既定の判定で再送）
	c.RetryMax = cfg.RetryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = nil
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c.HTTPClient.Timeout = cfg.Timeout

	return &REST{
		base:   strings.TrimRight(cfg.APIBase, "/"),
		token:  cfg.Token,
		client: c,
	}
}

func (r *REST) Close() {
	r.client.HTTPClient.CloseIdleConnections()
}

func (r *REST) SendMessage(ctx context.Context, channelID, content string) (chat.Message, error) {
	var m apiMessage
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	if err := r.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &m); err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	return m.toModel(), nil
}

func (r *REST) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s/@me",
		url.PathEscape(channelID), url.PathEscape(messageID), url.PathEscape(emoji))
	if err := r.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("add reaction %s: %w", emoji, err)
	}
	return nil
}

func (r *REST) FetchMessage(ctx context.Context, channelID, messageID string) (chat.Message, error) {
	var m apiMessage
	path := fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(channelID), url.PathEscape(messageID))
	if err := r.do(ctx, http.MethodGet, path, nil, &m); err != nil {
		return chat.Message{}, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return m.toModel(), nil
}

// ReactionUsers: after カーソルで全ページを取得
func (r *REST) ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]chat.User, error) {
	var out []chat.User
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(reactionPageSize))
		if after != "" {
			q.Set("after", after)
		}
		path := fmt.Sprintf("/channels/%s/messages/%s/reactions/%s?%s",
			url.PathEscape(channelID), url.PathEscape(messageID), url.PathEscape(emoji), q.Encode())

		var page []apiUser
		if err := r.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("reaction users %s: %w", emoji, err)
		}
		for _, u := range page {
			out = append(out, u.toModel())
		}
		if len(page) < reactionPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

func (r *REST) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	var reqBody any
	if payload != nil {
		reqBody = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, r.base+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+r.token)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return chat.ErrNotFound
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", chat.ErrForbidden, bytes.TrimSpace(snippet))
	default:
		return fmt.Errorf("discord: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
}
