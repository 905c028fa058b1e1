// Package housekeeping runs periodic maintenance jobs (cache sweeps, store
// pruning) on cron or fixed-interval schedules.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

var ErrUnknownJob = errors.New("housekeeping: unknown job")

// Job is one maintenance task. Run receives a context bounded by Timeout
// (default 30s). A run that is still in progress when the next tick fires
// is skipped.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// EntryInfo describes a registered job for status output.
type EntryInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev"`
}

type jobDef struct {
	Job
	sched   cron.Schedule
	entryID cron.EntryID
	mu      sync.Mutex // held while running
}

type Service struct {
	mu     sync.Mutex
	c      *cron.Cron
	parser cron.Parser
	loc    *time.Location
	log    logx.Logger
	ctx    context.Context
	cancel context.CancelFunc

	jobs map[string]*jobDef
}

// New creates a stopped service. An empty or invalid tz falls back to Local.
func New(tz string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		log:    log,
		jobs:   map[string]*jobDef{},
		loc:    time.Local,
	}
	if tz = strings.TrimSpace(tz); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		} else {
			s.loc = loc
		}
	}
	return s
}

// Validate reports whether raw is a usable schedule without registering anything.
func (s *Service) Validate(raw string) error {
	_, err := s.schedule(raw)
	return err
}

func (s *Service) schedule(raw string) (cron.Schedule, error) {
	sched, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	if sched.Kind == KindInterval {
		if sched.Every < time.Second {
			return nil, fmt.Errorf("interval %s below 1s", sched.Every)
		}
		return cron.Every(sched.Every), nil
	}
	return s.parser.Parse(sched.Expr)
}

// Add registers job. Jobs added after Start are scheduled immediately.
func (s *Service) Add(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" || job.Run == nil {
		return errors.New("housekeeping: job needs a name and a func")
	}
	sched, err := s.schedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("housekeeping: %s: %w", name, err)
	}
	if job.Timeout <= 0 {
		job.Timeout = 30 * time.Second
	}
	job.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.jobs[name]; old != nil && s.c != nil {
		s.c.Remove(old.entryID)
	}
	d := &jobDef{Job: job, sched: sched}
	s.jobs[name] = d
	if s.c != nil {
		d.entryID = s.c.Schedule(sched, s.wrap(d))
	}
	return nil
}

// Start begins triggering. Jobs run until Stop or ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	for _, d := range s.jobs {
		d.entryID = s.c.Schedule(d.sched, s.wrap(d))
	}
	s.c.Start()
	s.log.Info("housekeeping started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop stops triggering and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("housekeeping stopped")
}

// RunNow executes a registered job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d := s.jobs[name]
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.runLocked(ctx, d)
}

func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.jobs))
	for _, d := range s.jobs {
		info := EntryInfo{Name: d.Name, Schedule: d.Schedule}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) wrap(d *jobDef) cron.Job {
	ctx := s.ctx
	return cron.FuncJob(func() {
		if !d.mu.TryLock() {
			s.log.Debug("housekeeping job still running; skipped", logx.String("job", d.Name))
			return
		}
		defer d.mu.Unlock()
		_ = s.runLocked(ctx, d)
	})
}

func (s *Service) runLocked(ctx context.Context, d *jobDef) error {
	rctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	start := time.Now()
	err := d.Run(rctx)
	if err != nil {
		s.log.Warn("housekeeping job failed", logx.String("job", d.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	s.log.Debug("housekeeping job done", logx.String("job", d.Name), logx.Duration("took", time.Since(start)))
	return nil
}

// cronLogger adapts logx to cron.Logger for the Recover wrapper.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
