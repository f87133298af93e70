package attendance

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"attendance-bot/internal/chat"
)

// ===== Error model（共通コード + 出欠用コード） =====
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInternal           Code = "INTERNAL"
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"
	CodeNoStoredMeta       Code = "NO_STORED_META"
	CodeNoData             Code = "NO_DATA"
	CodeDateParse          Code = "DATE_PARSE"
	CodeStore              Code = "STORE"
	CodeTransport          Code = "TRANSPORT"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }
func ErrAlreadyInitialized(msg string) *APIError {
	return &APIError{Code: CodeAlreadyInitialized, Message: msg}
}
func ErrNoStoredMeta(msg string) *APIError { return &APIError{Code: CodeNoStoredMeta, Message: msg} }
func ErrNoData(msg string) *APIError       { return &APIError{Code: CodeNoData, Message: msg} }
func ErrDateParse(msg string) *APIError    { return &APIError{Code: CodeDateParse, Message: msg} }
func ErrStore(msg string) *APIError        { return &APIError{Code: CodeStore, Message: msg} }
func ErrTransport(msg string) *APIError    { return &APIError{Code: CodeTransport, Message: msg} }

// CodeOf: APIError 以外は INTERNAL
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

func toHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeDateParse:
		return 400
	case CodeNotFound, CodeNoStoredMeta, CodeNoData:
		return 404
	case CodeConflict, CodeAlreadyInitialized:
		return 409
	case CodeTransport:
		return 502
	default:
		return 500
	}
}

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ===== Service =====

type Options struct {
	Location *time.Location
	Labels   WeekdayLabels
	Clock    Clock
	IDGen    IDGen
}

type Service struct {
	store  Store
	chat   chat.Transport
	clock  Clock
	id     IDGen
	loc    *time.Location
	labels WeekdayLabels
	locks  *keyLock
}

func NewService(store Store, tr chat.Transport, opts Options) *Service {
	s := &Service{
		store:  store,
		chat:   tr,
		clock:  opts.Clock,
		id:     opts.IDGen,
		loc:    opts.Location,
		labels: opts.Labels,
		locks:  newKeyLock(),
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.id == nil {
		s.id = ulidGen{}
	}
	if s.loc == nil {
		loc, err := time.LoadLocation(DefaultTZ)
		if err != nil {
			loc = time.UTC
		}
		s.loc = loc
	}
	if s.labels == (WeekdayLabels{}) {
		s.labels = LabelsFor("ja")
	}
	return s
}

// LegendText: 凡例メッセージ
func LegendText() string {
	lines := make([]string, 0, len(Markers))
	for _, m := range Markers {
		lines = append(lines, m.Emoji+"："+m.Label)
	}
	return strings.Join(lines, "\n")
}

func dayMessage(d WeekDay) string {
	return fmt.Sprintf(" %s（%s）", d.Key, d.Weekday)
}

// StartWeek: 翌週（今日が月曜なら今週）の出欠メッセージを1日1通送り、記録を作る
func (s *Service) StartWeek(ctx context.Context, t Target) (Meta, error) {
	if t.ServerID == "" || t.ChannelID == "" {
		return nil, ErrInvalid("server_id and channel_id are required")
	}
	days := WeekOf(s.clock.Now(), s.loc, s.labels)
	weekStart := dateOnly(days[0].Date)

	// 重複実行チェック（同じ週が既に存在するか）
	existing, err := s.store.FindByWeek(ctx, t.ServerID, weekStart)
	if err != nil {
		return nil, storeError(err)
	}
	if existing != nil {
		return nil, ErrAlreadyInitialized(fmt.Sprintf("week %s is already initialized", weekStart.Format(DateLayout)))
	}

	if _, err := s.chat.SendMessage(ctx, t.ChannelID, LegendText()); err != nil {
		return nil, ErrTransport(err.Error())
	}

	meta := make(Meta, DaysPerWeek)
	var published []string
	for _, d := range days {
		msg, err := s.chat.SendMessage(ctx, t.ChannelID, dayMessage(d))
		if err != nil {
			logUnrecorded(t, published, err)
			return nil, ErrTransport(err.Error())
		}
		published = append(published, msg.ID)
		for _, m := range Markers {
			if err := s.chat.AddReaction(ctx, t.ChannelID, msg.ID, m.Emoji); err != nil {
				logUnrecorded(t, published, err)
				return nil, ErrTransport(err.Error())
			}
		}
		meta[d.Key] = DayEntry{
			Weekday:   d.Weekday,
			MessageID: msg.ID,
			Responses: NewResponses(),
		}
	}

	if err := s.Upsert(ctx, t.ServerID, meta); err != nil {
		logUnrecorded(t, published, err)
		return nil, err
	}
	slog.Info("week started", "server_id", t.ServerID, "week_start", weekStart.Format(DateLayout))
	return meta, nil
}

// 送信済みだが保存されていないメッセージは巻き戻せないので記録だけ残す
func logUnrecorded(t Target, published []string, err error) {
	if len(published) == 0 {
		return
	}
	slog.Warn("published messages left unrecorded",
		"server_id", t.ServerID, "channel_id", t.ChannelID,
		"message_ids", strings.Join(published, ","), "error", err)
}

// CollectWeek: 最新週の meta を読み、リアクションを集計して保存する
func (s *Service) CollectWeek(ctx context.Context, t Target) (Meta, error) {
	if t.ServerID == "" || t.ChannelID == "" {
		return nil, ErrInvalid("server_id and channel_id are required")
	}
	rec, err := s.store.Latest(ctx, t.ServerID)
	if err != nil {
		return nil, storeError(err)
	}
	if rec == nil {
		return nil, ErrNoStoredMeta("no stored meta for server " + t.ServerID)
	}

	data, err := s.Collect(ctx, t.ChannelID, rec.Meta)
	if err != nil {
		return nil, err
	}
	if err := s.Upsert(ctx, t.ServerID, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Upsert: 日付順に並べて週開始日を決め、既存なら responses だけ上書き、無ければ新規作成
func (s *Service) Upsert(ctx context.Context, serverID string, data Meta) error {
	if serverID == "" {
		return ErrInvalid("server_id is required")
	}
	keys, err := data.Dates()
	if err != nil {
		return ErrDateParse(err.Error())
	}
	if len(keys) == 0 {
		return ErrDateParse("no date keys found")
	}
	first, _ := parseDayKey(keys[0])
	// 月曜のメッセージが取得できなかった週でも同じ記録に入るよう、その週の月曜に寄せる
	weekStart := mondayOf(first)

	unlock := s.locks.Lock(serverID + "|" + weekStart.Format(DateLayout))
	defer unlock()

	err = s.store.InTx(ctx, func(ctx context.Context, st Store) error {
		existing, err := st.FindByWeek(ctx, serverID, weekStart)
		if err != nil {
			return err
		}
		if existing != nil {
			merged := existing.Meta.clone()
			for k, d := range data {
				cur, ok := merged[k]
				if !ok {
					// 公開後は保存済みの構造が正
					continue
				}
				cur.Responses = d.Responses.clone().normalize()
				merged[k] = cur
			}
			return st.UpdateMeta(ctx, existing.ID, merged)
		}

		id, err := s.id.New()
		if err != nil {
			return err
		}
		return st.Insert(ctx, &Record{
			RecordULID: id,
			ServerID:   serverID,
			WeekStart:  weekStart,
			Meta:       data.clone().normalize(),
		})
	})
	if err != nil {
		return storeError(err)
	}
	return nil
}

// Reset: 最新週の記録を丸ごと削除する
func (s *Service) Reset(ctx context.Context, serverID string) error {
	if serverID == "" {
		return ErrInvalid("server_id is required")
	}
	rec, err := s.store.Latest(ctx, serverID)
	if err != nil {
		return storeError(err)
	}
	if rec == nil {
		return ErrNotFound("no record to reset for server " + serverID)
	}
	if err := s.store.Delete(ctx, rec.ID); err != nil {
		return storeError(err)
	}
	slog.Info("week reset", "server_id", serverID, "week_start", rec.WeekStart.Format(DateLayout))
	return nil
}

// Latest: 閲覧用
func (s *Service) Latest(ctx context.Context, serverID string) (RecordResponse, error) {
	if serverID == "" {
		return RecordResponse{}, ErrInvalid("server_id is required")
	}
	rec, err := s.store.Latest(ctx, serverID)
	if err != nil {
		return RecordResponse{}, storeError(err)
	}
	if rec == nil {
		return RecordResponse{}, ErrNotFound("record not found")
	}
	return rec.toDTO(), nil
}

func mondayOf(t time.Time) time.Time {
	d := dateOnly(t)
	return d.AddDate(0, 0, -((int(d.Weekday()) + 6) % 7))
}

func storeError(err error) error {
	var api *APIError
	if errors.As(err, &api) {
		return api
	}
	if isDuplicateKey(err) {
		return ErrConflict("record for this week already exists")
	}
	return ErrStore(err.Error())
}
