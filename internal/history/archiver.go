package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// Archiver moves trades older than the retention window to cold storage.
type Archiver struct {
	blob          domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

func NewArchiver(blob domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass against the retention cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.InfoContext(ctx, "archiver: run started",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)
	archived, err := a.blob.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("history: archive trades before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Int64("trades_archived", archived),
	)
	return nil
}

// RunCron runs archive passes on a 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is canceled.
// "0 3 1 * *" runs at 03:00 UTC on the first of every month.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("history: cron %q: %w", expr, err)
	}
	a.logger.InfoContext(ctx, "archiver: cron started", slog.String("cron", expr))

	for {
		next, ok := sched.next(time.Now().UTC())
		if !ok {
			return fmt.Errorf("history: cron %q never fires", expr)
		}
		a.logger.InfoContext(ctx, "archiver: next run scheduled",
			slog.Time("next_run", next),
		)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver: cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archiver: run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// cronSchedule holds the five parsed fields of a cron expression, in order:
// minute, hour, day-of-month, month, day-of-week.
type cronSchedule [5]cronField

type cronField struct {
	any    bool
	values []int
}

func (f cronField) matches(v int) bool {
	if f.any {
		return true
	}
	for _, want := range f.values {
		if want == v {
			return true
		}
	}
	return false
}

var cronFieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

func parseCron(expr string) (cronSchedule, error) {
	var sched cronSchedule
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return sched, fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	for i, raw := range fields {
		field, err := parseCronField(raw)
		if err != nil {
			return sched, fmt.Errorf("%s field: %w", cronFieldNames[i], err)
		}
		sched[i] = field
	}
	return sched, nil
}

// parseCronField accepts "*", a number, or a comma list of numbers.
func parseCronField(raw string) (cronField, error) {
	if raw == "*" {
		return cronField{any: true}, nil
	}
	parts := strings.Split(raw, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid value %q", p)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

func (s cronSchedule) matchesTime(t time.Time) bool {
	return s[0].matches(t.Minute()) &&
		s[1].matches(t.Hour()) &&
		s[2].matches(t.Day()) &&
		s[3].matches(int(t.Month())) &&
		s[4].matches(int(t.Weekday()))
}

// next scans minute boundaries after the given time, bounded at one year so
// an unsatisfiable expression terminates.
func (s cronSchedule) next(after time.Time) (time.Time, bool) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matchesTime(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false
}
