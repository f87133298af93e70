package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"attendance-bot/internal/platform/db"
)

const tableName = "weekly_attendance"

// Store: weekly_attendance への等値検索・追加・更新・削除
type Store interface {
	// FindByWeek: 無ければ nil, nil
	FindByWeek(ctx context.Context, serverID string, weekStart time.Time) (*Record, error)
	// Latest: week_start が最も新しい1件。無ければ nil, nil
	Latest(ctx context.Context, serverID string) (*Record, error)
	Insert(ctx context.Context, rec *Record) error
	UpdateMeta(ctx context.Context, id int64, meta Meta) error
	Delete(ctx context.Context, id int64) error
	// InTx: fn 内の操作を1トランザクションで行う
	InTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error
}

// ErrDuplicateRecord: (server_id, week_start) の一意制約違反（メモリ実装用）
var ErrDuplicateRecord = errors.New("duplicate weekly attendance record")

func isDuplicateKey(err error) bool {
	if errors.Is(err, ErrDuplicateRecord) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// ===== SQL 実装（MySQL / Postgres） =====

type SQLStore struct {
	conn   *sql.DB
	db     db.DBTX
	driver string
	inTx   bool
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(conn *sql.DB, driver string) *SQLStore {
	return &SQLStore{conn: conn, db: conn, driver: driver}
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS weekly_attendance (
	id          BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	record_ulid CHAR(26) NOT NULL,
	server_id   VARCHAR(32) NOT NULL,
	week_start  DATE NOT NULL,
	meta        JSON NOT NULL,
	created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	UNIQUE KEY uq_weekly_attendance_server_week (server_id, week_start),
	UNIQUE KEY uq_weekly_attendance_ulid (record_ulid)
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS weekly_attendance (
	id          BIGSERIAL PRIMARY KEY,
	record_ulid CHAR(26) NOT NULL UNIQUE,
	server_id   VARCHAR(32) NOT NULL,
	week_start  DATE NOT NULL,
	meta        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (server_id, week_start)
)`

// EnsureSchema: 起動時にテーブルが無ければ作る
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	q := mysqlSchema
	if s.driver == db.DriverPostgres {
		q = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create %s: %w", tableName, err)
	}
	return nil
}

// rebind: Postgres は ? の代わりに $1, $2, ...
func (s *SQLStore) rebind(q string) string {
	if s.driver != db.DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const selectColumns = `SELECT id, record_ulid, server_id, week_start, meta, created_at, updated_at FROM weekly_attendance`

func (s *SQLStore) FindByWeek(ctx context.Context, serverID string, weekStart time.Time) (*Record, error) {
	q := selectColumns + ` WHERE server_id = ? AND week_start = ?`
	// トランザクション内では read-merge-write の間、行をロックする
	if s.inTx {
		q += ` FOR UPDATE`
	}
	return s.queryOne(ctx, q, serverID, weekStart.Format(DateLayout))
}

func (s *SQLStore) Latest(ctx context.Context, serverID string) (*Record, error) {
	q := selectColumns + ` WHERE server_id = ? ORDER BY week_start DESC LIMIT 1`
	return s.queryOne(ctx, q, serverID)
}

func (s *SQLStore) queryOne(ctx context.Context, q string, args ...any) (*Record, error) {
	var r recordRow
	err := s.db.QueryRowContext(ctx, s.rebind(q), args...).Scan(
		&r.ID, &r.RecordULID, &r.ServerID, &r.WeekStart, &r.Meta, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.toModel()
}

func (s *SQLStore) Insert(ctx context.Context, rec *Record) error {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return err
	}
	q := `
	INSERT INTO weekly_attendance (record_ulid, server_id, week_start, meta, created_at, updated_at)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	args := []any{rec.RecordULID, rec.ServerID, rec.WeekStart.Format(DateLayout), string(meta)}

	if s.driver == db.DriverPostgres {
		return s.db.QueryRowContext(ctx, s.rebind(q+` RETURNING id`), args...).Scan(&rec.ID)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// UpdateMeta: MySQL は値が同じだと RowsAffected=0 になるので件数は見ない
func (s *SQLStore) UpdateMeta(ctx context.Context, id int64, meta Meta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	q := `UPDATE weekly_attendance SET meta = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err = s.db.ExecContext(ctx, s.rebind(q), string(b), id)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM weekly_attendance WHERE id = ?`), id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound("record already deleted")
	}
	return nil
}

func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	if s.inTx || s.conn == nil {
		return fn(ctx, s)
	}
	return db.RunInTx(ctx, s.conn, nil, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, &SQLStore{db: tx, driver: s.driver, inTx: true})
	})
}

// ===== helpers =====

// dbTime: parseTime の有無やドライバ差を吸収する
type dbTime struct{ time.Time }

var dbTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	DateLayout,
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("dbTime: unsupported type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("dbTime: cannot parse %q", s)
}
