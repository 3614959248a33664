// Package schedule decides when the next polling cycle starts.
package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	Interval Kind = iota
	Cron
)

func (k Kind) String() string {
	if k == Cron {
		return "cron"
	}
	return "interval"
}

// Schedule is a parsed schedule string.
//
// Supported forms:
//   - Interval duration: "5m", "2h30m"
//   - Interval HH:MM: "00:05" (5 minutes), "02:30" (2 hours 30 minutes)
//   - Cron: "*/5 * * * *", "0 30 * * * *" (seconds optional), "@hourly"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
//
// An interval is measured from the end of the previous cycle, so a slow
// cycle pushes the next one back instead of bunching them up.
type Schedule struct {
	Kind   Kind
	Every  time.Duration
	Cron   string
	Source string // "cron" | "duration" | "hhmm"

	cron cron.Schedule
	loc  *time.Location
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Every returns a fixed-interval schedule.
func Every(d time.Duration) Schedule {
	return Schedule{Kind: Interval, Every: d, Source: "duration"}
}

// Parse parses raw in loc (nil means time.Local; only cron uses it).
func Parse(raw string, loc *time.Location) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	if loc == nil {
		loc = time.Local
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return parseCron(expr, loc)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s, loc)
	}
	if reHHMM.MatchString(s) {
		return parseInterval(s)
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		return Every(d), nil
	}

	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use a duration like '5m', HH:MM like '00:05', or cron like '*/5 * * * *')",
		raw,
	)
}

func parseCron(expr string, loc *time.Location) (Schedule, error) {
	sch, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Kind: Cron, Cron: expr, Source: "cron", cron: sch, loc: loc}, nil
}

func parseInterval(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: Interval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '5m')", v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// Next returns when the cycle after one that finished at `after` should start.
func (s Schedule) Next(after time.Time) time.Time {
	if s.Kind == Cron && s.cron != nil {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		return s.cron.Next(after.In(loc))
	}
	return after.Add(s.Every)
}

func (s Schedule) String() string {
	if s.Kind == Cron {
		return "cron:" + s.Cron
	}
	return "every " + s.Every.String()
}
