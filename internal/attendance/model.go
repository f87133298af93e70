package attendance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Responses: 回答ラベル → 回答者名（4ラベル全て必ず持つ）
type Responses map[string][]string

func NewResponses() Responses {
	r := make(Responses, len(Markers))
	for _, m := range Markers {
		r[m.Label] = []string{}
	}
	return r
}

// normalize: 欠けたラベルや null のバケツを空配列で埋める
func (r Responses) normalize() Responses {
	if r == nil {
		return NewResponses()
	}
	for _, m := range Markers {
		if r[m.Label] == nil {
			r[m.Label] = []string{}
		}
	}
	return r
}

func (r Responses) clone() Responses {
	out := make(Responses, len(r))
	for k, v := range r {
		out[k] = append([]string{}, v...)
	}
	return out
}

type DayEntry struct {
	Weekday   string    `json:"weekday"`
	MessageID string    `json:"message_id,omitempty"`
	Responses Responses `json:"responses"`
}

// Meta: "YYYY/MM/DD" → DayEntry。
// encoding/json はキーを昇順で出力するので、ゼロ埋めの日付キーはそのまま日付順になる。
type Meta map[string]DayEntry

// Dates: キーを日付昇順で返す。解釈できないキーがあればエラー。
func (m Meta) Dates() ([]string, error) {
	type keyed struct {
		key string
		at  time.Time
	}
	ks := make([]keyed, 0, len(m))
	for k := range m {
		t, err := parseDayKey(k)
		if err != nil {
			return nil, err
		}
		ks = append(ks, keyed{key: k, at: t})
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if ks[i].at.Equal(ks[j].at) {
			return ks[i].key < ks[j].key
		}
		return ks[i].at.Before(ks[j].at)
	})
	out := make([]string, len(ks))
	for i := range ks {
		out[i] = ks[i].key
	}
	return out, nil
}

func (m Meta) clone() Meta {
	out := make(Meta, len(m))
	for k, d := range m {
		d.Responses = d.Responses.clone()
		out[k] = d
	}
	return out
}

func (m Meta) normalize() Meta {
	for k, d := range m {
		d.Responses = d.Responses.normalize()
		m[k] = d
	}
	return m
}

func parseDayKey(k string) (time.Time, error) {
	k = strings.TrimSpace(k)
	if t, err := time.ParseInLocation(DayKeyLayout, k, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(DateLayout, k, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("日付キー %q を解釈できません", k)
	}
	return t, nil
}

// Record: weekly_attendance の1行（サーバー×週で一意）
type Record struct {
	ID         int64
	RecordULID string
	ServerID   string
	WeekStart  time.Time
	Meta       Meta
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Meta = r.Meta.clone()
	return &c
}

// DB行に対応（スキャン用）
type recordRow struct {
	ID         int64
	RecordULID string
	ServerID   string
	WeekStart  dbTime
	Meta       []byte
	CreatedAt  dbTime
	UpdatedAt  dbTime
}

func (r recordRow) toModel() (*Record, error) {
	var meta Meta
	if err := json.Unmarshal(r.Meta, &meta); err != nil {
		return nil, fmt.Errorf("meta のデコードに失敗: %w", err)
	}
	if meta == nil {
		meta = Meta{}
	}
	return &Record{
		ID:         r.ID,
		RecordULID: r.RecordULID,
		ServerID:   r.ServerID,
		WeekStart:  dateOnly(r.WeekStart.Time),
		Meta:       meta.normalize(),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}, nil
}

func (r *Record) toDTO() RecordResponse {
	return RecordResponse{
		RecordULID: r.RecordULID,
		ServerID:   r.ServerID,
		WeekStart:  r.WeekStart.Format(DateLayout),
		Meta:       r.Meta,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// dateOnly: 暦日だけを UTC 0時で持つ
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
