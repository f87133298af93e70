// Package schedule は出欠確認の定期実行（cron）を扱う。
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 5 * time.Minute

// Job: ジョブは並行に呼ばれても安全であること
type Job func(ctx context.Context)

type Scheduler struct {
	c       *cron.Cron
	timeout time.Duration
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		c:       cron.New(cron.WithLocation(loc)),
		timeout: defaultJobTimeout,
	}
}

// Add: spec は 5 フィールド形式（例 "0 21 * * 0" = 毎週日曜 21:00）
func (s *Scheduler) Add(spec, name string, job Job) error {
	_, err := s.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		slog.Info("scheduled job running", "job", name)
		job(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop: 実行中のジョブの終了を待つ
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// Next: 次回実行時刻（登録が無ければゼロ値）
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.c.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}
