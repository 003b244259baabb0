package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// specKind distinguishes the three schedule_spec grammars: crontab,
// fixed clock times, and interval-within-window.
type specKind string

const (
	specCron       specKind = "cron"
	specFixedTimes specKind = "fixed-times"
	specInterval   specKind = "interval"
)

// Spec is a parsed schedule_spec: either a 5-field crontab, a comma-separated
// list of clock times, or a bounded "every <dur> from HH:MM to HH:MM" window —
// each carrying its own named timezone.
type Spec struct {
	kind     specKind
	raw      string
	loc      *time.Location
	cronExpr cron.Schedule // specCron
	times    []clockTime   // specFixedTimes
	interval time.Duration // specInterval
	from, to clockTime     // specInterval
}

type clockTime struct {
	hour, minute int
}

func (c clockTime) onDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.hour, c.minute, 0, 0, loc)
}

// ParseSpec parses one schedule_spec cell. The timezone suffix, when present,
// is the last whitespace-separated token and is tried as an IANA zone name;
// specs without one default to defaultLoc.
func ParseSpec(raw string, defaultLoc *time.Location) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, fmt.Errorf("schedule: empty schedule_spec")
	}

	body, loc := splitTimezoneSuffix(raw, defaultLoc)

	if strings.HasPrefix(strings.ToLower(body), "every ") {
		return parseInterval(raw, body, loc)
	}
	if looksLikeCron(body) {
		sched, err := cronParser.Parse(body)
		if err != nil {
			return Spec{}, fmt.Errorf("schedule: invalid cron expression %q: %w", body, err)
		}
		return Spec{kind: specCron, raw: raw, loc: loc, cronExpr: sched}, nil
	}
	return parseFixedTimes(raw, body, loc)
}

// splitTimezoneSuffix tries the trailing token as an IANA zone name, falling
// back to defaultLoc when absent or unrecognised.
func splitTimezoneSuffix(raw string, defaultLoc *time.Location) (body string, loc *time.Location) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return raw, defaultLoc
	}
	last := fields[len(fields)-1]
	if tz, err := time.LoadLocation(last); err == nil {
		return strings.TrimSpace(strings.TrimSuffix(raw, last)), tz
	}
	return raw, defaultLoc
}

func looksLikeCron(body string) bool {
	return len(strings.Fields(body)) == 5
}

func parseFixedTimes(raw, body string, loc *time.Location) (Spec, error) {
	parts := strings.Split(body, ",")
	var times []clockTime
	for _, p := range parts {
		ct, err := parseClockTime(strings.TrimSpace(p))
		if err != nil {
			return Spec{}, fmt.Errorf("schedule: invalid fixed time %q: %w", p, err)
		}
		times = append(times, ct)
	}
	if len(times) == 0 {
		return Spec{}, fmt.Errorf("schedule: no fixed times parsed from %q", raw)
	}
	return Spec{kind: specFixedTimes, raw: raw, loc: loc, times: times}, nil
}

// parseInterval parses "every <duration> from HH:MM to HH:MM".
func parseInterval(raw, body string, loc *time.Location) (Spec, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(body), "every"))
	fromIdx := strings.Index(rest, "from")
	if fromIdx < 0 {
		return Spec{}, fmt.Errorf("schedule: interval spec %q missing \"from\"", raw)
	}
	durPart := strings.TrimSpace(rest[:fromIdx])
	windowPart := strings.TrimSpace(rest[fromIdx+len("from"):])

	toIdx := strings.Index(windowPart, "to")
	if toIdx < 0 {
		return Spec{}, fmt.Errorf("schedule: interval spec %q missing \"to\"", raw)
	}
	fromStr := strings.TrimSpace(windowPart[:toIdx])
	toStr := strings.TrimSpace(windowPart[toIdx+len("to"):])

	dur, err := time.ParseDuration(durPart)
	if err != nil {
		return Spec{}, fmt.Errorf("schedule: invalid interval duration %q: %w", durPart, err)
	}
	from, err := parseClockTime(fromStr)
	if err != nil {
		return Spec{}, fmt.Errorf("schedule: invalid window start %q: %w", fromStr, err)
	}
	to, err := parseClockTime(toStr)
	if err != nil {
		return Spec{}, fmt.Errorf("schedule: invalid window end %q: %w", toStr, err)
	}

	return Spec{kind: specInterval, raw: raw, loc: loc, interval: dur, from: from, to: to}, nil
}

func parseClockTime(s string) (clockTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return clockTime{}, fmt.Errorf("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return clockTime{}, fmt.Errorf("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return clockTime{}, fmt.Errorf("invalid minute")
	}
	return clockTime{hour: h, minute: m}, nil
}

// Next returns the earliest fire time strictly after now.
func (s Spec) Next(now time.Time) time.Time {
	loc := s.loc
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)

	switch s.kind {
	case specCron:
		return s.cronExpr.Next(local)
	case specFixedTimes:
		return nextFixedTime(local, s.times)
	case specInterval:
		return nextInterval(local, s.interval, s.from, s.to)
	default:
		return time.Time{}
	}
}

func nextFixedTime(now time.Time, times []clockTime) time.Time {
	var best time.Time
	for _, ct := range times {
		candidate := ct.onDate(now, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best
}

func nextInterval(now time.Time, interval time.Duration, from, to clockTime) time.Time {
	if interval <= 0 {
		return time.Time{}
	}
	windowStart := from.onDate(now, now.Location())
	windowEnd := to.onDate(now, now.Location())

	if windowEnd.Before(windowStart) {
		// Window crosses midnight; today's window runs from start today to end tomorrow.
		windowEnd = windowEnd.AddDate(0, 0, 1)
	}

	if now.Before(windowStart) {
		return windowStart
	}
	if now.Before(windowEnd) {
		elapsed := now.Sub(windowStart)
		ticks := elapsed/interval + 1
		candidate := windowStart.Add(ticks * interval)
		if candidate.Before(windowEnd) {
			return candidate
		}
	}
	// Past today's window (or no tick remains in it): first tick tomorrow.
	return from.onDate(now, now.Location()).AddDate(0, 0, 1)
}
