package housekeeping

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     ScheduleKind
		form     string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, form: "cron"},
		{name: "descriptor", raw: "@every 10m", kind: KindCron, form: "cron"},
		{name: "prefixed cron", raw: "cron:0 4 * * *", kind: KindCron, form: "cron"},
		{name: "duration", raw: "10m", kind: KindInterval, form: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, form: "duration", duration: 45 * time.Second},
		{name: "prefixed every hhmm", raw: "every: 00:10", kind: KindInterval, form: "hhmm", duration: 10 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: KindInterval, form: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Form != tt.form {
				t.Fatalf("Form = %s, want %s", got.Form, tt.form)
			}
			if tt.kind == KindInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:75", "00:00", "-5m", "cron:", "every:", "1:5", "ab:cd"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) should fail", raw)
		}
	}
}

func TestServiceValidate(t *testing.T) {
	s := New("", logx.Nop())
	if err := s.Validate("@every 10m"); err != nil {
		t.Fatalf("Validate(@every 10m) = %v", err)
	}
	if err := s.Validate("61 * * * *"); err == nil {
		t.Fatal("out-of-range cron minute should fail")
	}
	if err := s.Validate("500ms"); err == nil {
		t.Fatal("sub-second interval should fail")
	}
}

func TestServiceRunsJobs(t *testing.T) {
	s := New("UTC", logx.NewWriter(io.Discard, "debug"))
	var ticks atomic.Int32
	ran := make(chan struct{}, 8)
	err := s.Add(Job{Name: "tick", Schedule: "1s", Run: func(ctx context.Context) error {
		ticks.Add(1)
		ran <- struct{}{}
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job never ran")
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Name != "tick" || entries[0].Next.IsZero() {
		t.Fatalf("Entries() = %+v", entries)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	n := ticks.Load()
	time.Sleep(1500 * time.Millisecond)
	if ticks.Load() != n {
		t.Fatal("job ran after Stop")
	}
}

func TestServiceRunNow(t *testing.T) {
	s := New("", logx.Nop())
	boom := errors.New("boom")
	if err := s.Add(Job{Name: "prune", Schedule: "@hourly", Run: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context has no deadline")
		}
		return boom
	}}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "prune"); !errors.Is(err, boom) {
		t.Fatalf("RunNow() = %v, want boom", err)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("RunNow(missing) = %v", err)
	}
	if err := s.Add(Job{Name: "bad", Schedule: "whenever", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("Add with invalid schedule should fail")
	}
}
