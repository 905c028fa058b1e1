package housekeeping

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleKind tells the service how to register a job with cron.
type ScheduleKind int

const (
	KindCron ScheduleKind = iota
	KindInterval
)

// Schedule is a housekeeping job's parsed "housekeeping.*" setting.
//
// Accepted forms, as written in the config file:
//
//	"@every 10m", "@hourly", "0 4 * * *"  cron (descriptor or 5 fields)
//	"10m", "1h30m"                         fixed interval
//	"00:10", "01:30"                       fixed interval as hours:minutes
//	"cron:<expr>", "every:<interval>"      force one reading
type Schedule struct {
	Kind  ScheduleKind
	Expr  string        // cron expression, KindCron only
	Every time.Duration // KindInterval only
	Form  string        // "cron", "duration" or "hhmm"
}

var errNonPositive = errors.New("housekeeping interval must be > 0")

// ParseSchedule reads one housekeeping schedule setting.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errors.New("housekeeping schedule is empty")
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(prefix) {
		case "cron":
			expr := strings.TrimSpace(rest)
			if expr == "" {
				return Schedule{}, errors.New("cron expression missing after \"cron:\"")
			}
			return Schedule{Kind: KindCron, Expr: expr, Form: "cron"}, nil
		case "every", "interval":
			return parseInterval(rest)
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return Schedule{Kind: KindCron, Expr: s, Form: "cron"}, nil
	}
	sched, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: want cron like \"@every 10m\", hours:minutes like \"01:00\", or a duration like \"10m\"", raw)
	}
	return sched, nil
}

func parseInterval(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if h, m, ok := strings.Cut(v, ":"); ok {
		d, err := hoursMinutes(h, m)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		return Schedule{Kind: KindInterval, Every: d, Form: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return Schedule{}, errNonPositive
	}
	return Schedule{Kind: KindInterval, Every: d, Form: "duration"}, nil
}

func hoursMinutes(h, m string) (time.Duration, error) {
	if len(h) == 0 || len(h) > 3 || len(m) != 2 {
		return 0, errors.New("want H:MM")
	}
	hh, err := strconv.ParseUint(h, 10, 16)
	if err != nil {
		return 0, err
	}
	mm, err := strconv.ParseUint(m, 10, 8)
	if err != nil {
		return 0, err
	}
	if mm > 59 {
		return 0, errors.New("minutes above 59")
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, errNonPositive
	}
	return d, nil
}
