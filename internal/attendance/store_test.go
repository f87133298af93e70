package attendance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"attendance-bot/internal/platform/db"
)

// ///////////////////////////////////////////////
// SQLStore helpers
// ///////////////////////////////////////////////

func TestRebind(t *testing.T) {
	q := `UPDATE weekly_attendance SET meta = ? WHERE id = ?`

	pg := &SQLStore{driver: db.DriverPostgres}
	if got, want := pg.rebind(q), `UPDATE weekly_attendance SET meta = $1 WHERE id = $2`; got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
	my := &SQLStore{driver: db.DriverMySQL}
	if got := my.rebind(q); got != q {
		t.Errorf("mysql rebind changed query: %q", got)
	}
}

func TestDBTime_Scan(t *testing.T) {
	want := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		src  any
	}{
		{"time", want},
		{"date bytes", []byte("2025-01-20")},
		{"datetime string", "2025-01-20 00:00:00"},
		{"rfc3339", "2025-01-20T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d dbTime
			if err := d.Scan(tt.src); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if !d.Equal(want) {
				t.Errorf("got %v, want %v", d.Time, want)
			}
		})
	}

	var d dbTime
	if err := d.Scan(42); err == nil {
		t.Error("expected error for int source")
	}
	if err := d.Scan("next week"); err == nil {
		t.Error("expected error for unparsable string")
	}
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"memory", ErrDuplicateRecord, true},
		{"mysql 1062", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"mysql other", &mysql.MySQLError{Number: 1146}, false},
		{"postgres 23505", &pq.Error{Code: "23505"}, true},
		{"wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := isDuplicateKey(tt.err); got != tt.want {
			t.Errorf("%s: isDuplicateKey = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStoreError(t *testing.T) {
	if got := CodeOf(storeError(ErrDuplicateRecord)); got != CodeConflict {
		t.Errorf("duplicate → %s, want %s", got, CodeConflict)
	}
	if got := CodeOf(storeError(errors.New("connection reset"))); got != CodeStore {
		t.Errorf("driver error → %s, want %s", got, CodeStore)
	}
	if got := CodeOf(storeError(ErrNotFound("x"))); got != CodeNotFound {
		t.Errorf("api error → %s, want %s", got, CodeNotFound)
	}
}

// ///////////////////////////////////////////////
// MemoryStore
// ///////////////////////////////////////////////

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	ws := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	rec := &Record{
		RecordULID: "01A",
		ServerID:   "g",
		WeekStart:  ws,
		Meta:       Meta{"2025/01/20": {Weekday: "月", Responses: NewResponses()}},
	}
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatal(err)
	}
	// 呼び出し側の変更は保存内容に影響しない
	rec.Meta["2025/01/20"].Responses["行ける"] = append(rec.Meta["2025/01/20"].Responses["行ける"], "mallory")

	got, err := st.FindByWeek(ctx, "g", ws)
	if err != nil || got == nil {
		t.Fatalf("FindByWeek = %v, %v", got, err)
	}
	if n := len(got.Meta["2025/01/20"].Responses["行ける"]); n != 0 {
		t.Errorf("stored 行ける has %d names, want 0", n)
	}

	if err := st.Insert(ctx, &Record{ServerID: "g", WeekStart: ws}); !errors.Is(err, ErrDuplicateRecord) {
		t.Errorf("duplicate insert err = %v", err)
	}
	if err := st.Delete(ctx, got.ID); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, got.ID); CodeOf(err) != CodeNotFound {
		t.Errorf("second delete err = %v", err)
	}
}
