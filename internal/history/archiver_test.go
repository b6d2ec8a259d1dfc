package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeBlobArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	count   int64
	err     error
}

func (f *fakeBlobArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.cutoffs = append(f.cutoffs, before)
	return f.count, nil
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 3 1 * *", false},
		{"* * * * *", false},
		{"0,30 9,17 * * 1", false},
		{"0 3 1 *", true},
		{"0 3 1 * * *", true},
		{"x 3 1 * *", true},
		{"0 3 1 * mon", true},
	}
	for _, tt := range tests {
		_, err := parseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCron(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestCronNext(t *testing.T) {
	after := time.Date(2025, 6, 15, 10, 30, 45, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 6, 15, 10, 31, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)},
		{"45 10 * * *", time.Date(2025, 6, 15, 10, 45, 0, 0, time.UTC)},
		{"0,30 * * * *", time.Date(2025, 6, 15, 11, 0, 0, 0, time.UTC)},
		// 2025-06-15 is a Sunday; next Monday is the 16th.
		{"0 9 * * 1", time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		sched, err := parseCron(tt.expr)
		if err != nil {
			t.Fatalf("parseCron(%q): %v", tt.expr, err)
		}
		got, ok := sched.next(after)
		if !ok {
			t.Fatalf("next(%q) found nothing", tt.expr)
		}
		if !got.Equal(tt.want) {
			t.Errorf("next(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestCronNeverFires(t *testing.T) {
	// Minute 61 never matches.
	sched, err := parseCron("61 * * * *")
	if err != nil {
		t.Fatalf("parseCron: %v", err)
	}
	if _, ok := sched.next(time.Now()); ok {
		t.Error("expected no match for an impossible schedule")
	}
}

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	blob := &fakeBlobArchiver{count: 7}
	arch := NewArchiver(blob, 90, testLogger())

	if err := arch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	blob.mu.Lock()
	defer blob.mu.Unlock()
	if len(blob.cutoffs) != 1 {
		t.Fatalf("archive calls = %d, want 1", len(blob.cutoffs))
	}
	want := time.Now().UTC().AddDate(0, 0, -90)
	if diff := blob.cutoffs[0].Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want about %v", blob.cutoffs[0], want)
	}
}

func TestArchiverRunSurfacesFailure(t *testing.T) {
	blob := &fakeBlobArchiver{err: errors.New("bucket unavailable")}
	arch := NewArchiver(blob, 30, testLogger())
	if err := arch.Run(context.Background()); err == nil {
		t.Fatal("expected archive failure to surface")
	}
}

func TestRunCronStopsOnCancel(t *testing.T) {
	blob := &fakeBlobArchiver{}
	arch := NewArchiver(blob, 30, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- arch.RunCron(ctx, "0 3 1 * *") }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop on cancel")
	}
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	arch := NewArchiver(&fakeBlobArchiver{}, 30, testLogger())
	if err := arch.RunCron(context.Background(), "bad"); err == nil {
		t.Fatal("expected parse error")
	}
}
