// Package temporal resolves free-text temporal expressions into concrete
// instants or cron recurrences. Expressions arrive embedded in model output,
// so resolution is total: anything unparseable degrades to a near-future
// instant instead of failing the turn.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind discriminates a resolved expression.
type Kind string

const (
	KindAt   Kind = "at"
	KindCron Kind = "cron"
)

// Resolution is the concrete outcome of resolving an expression: a one-shot
// instant (KindAt) or a 5-field cron recurrence (KindCron).
type Resolution struct {
	Kind Kind
	At   time.Time
	Expr string
}

// Parser accepts standard 5-field expressions plus descriptors like @daily.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	reDailyAt    = regexp.MustCompile(`^every day at (.+)$`)
	reWeekdayAt  = regexp.MustCompile(`^every weekday at (.+)$`)
	reEveryNHrs  = regexp.MustCompile(`^every (\d+) hours?$`)
	reInDuration = regexp.MustCompile(`^in (\d+) (second|minute|hour|day)s?$`)
	reTomorrowAt = regexp.MustCompile(`^tomorrow at (.+)$`)
	reAtClock    = regexp.MustCompile(`^at (.+)$`)
	reClock      = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

const fallbackDelay = 60 * time.Second

// Resolve parses expr relative to now. It never fails: unrecognized input
// resolves to now plus sixty seconds.
func Resolve(expr string, now time.Time) Resolution {
	raw := strings.TrimSpace(expr)
	s := strings.ToLower(raw)
	if s == "" {
		return fallback(now)
	}

	// Raw cron (or a descriptor) passes straight through.
	if _, err := Parser.Parse(s); err == nil {
		return Resolution{Kind: KindCron, Expr: s}
	}

	if m := reDailyAt.FindStringSubmatch(s); m != nil {
		if hour, minute, ok := parseClock(m[1]); ok {
			return cronResolution(fmt.Sprintf("%d %d * * *", minute, hour), now)
		}
	}
	if s == "every hour" {
		return cronResolution("0 * * * *", now)
	}
	if s == "every morning" {
		return cronResolution("0 9 * * *", now)
	}
	if s == "every evening" {
		return cronResolution("0 18 * * *", now)
	}
	if m := reEveryNHrs.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 {
			return cronResolution(fmt.Sprintf("0 */%d * * *", n), now)
		}
	}
	if m := reWeekdayAt.FindStringSubmatch(s); m != nil {
		if hour, minute, ok := parseClock(m[1]); ok {
			return cronResolution(fmt.Sprintf("%d %d * * 1-5", minute, hour), now)
		}
	}
	if m := reInDuration.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return Resolution{Kind: KindAt, At: now.Add(time.Duration(n) * unitOf(m[2]))}
		}
	}
	if at, ok := parseDate(raw, s, now); ok {
		return Resolution{Kind: KindAt, At: at}
	}
	return fallback(now)
}

func fallback(now time.Time) Resolution {
	return Resolution{Kind: KindAt, At: now.Add(fallbackDelay)}
}

// cronResolution validates a rendered expression before committing to it;
// a render that robfig rejects degrades to the fallback instant.
func cronResolution(expr string, now time.Time) Resolution {
	if _, err := Parser.Parse(expr); err != nil {
		return fallback(now)
	}
	return Resolution{Kind: KindCron, Expr: expr}
}

func unitOf(name string) time.Duration {
	switch name {
	case "second":
		return time.Second
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	}
	return time.Second
}

// parseClock reads "7", "7:30", "7pm", "7:30 pm" into a 24h hour/minute.
func parseClock(s string) (hour, minute int, ok bool) {
	m := reClock.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04pm",
	"2006-01-02",
	"Jan 2 2006 15:04",
	"01/02/2006 15:04",
}

// parseDate covers explicit dates plus "tomorrow at X", "at X", and a bare
// clock, resolving the latter two to today or the next day it lands in the
// future. Layouts run against the original casing first (the RFC3339 "T" is a
// case-sensitive literal), then the lowered form so "3:04PM" still matches
// the am/pm layouts.
func parseDate(raw, s string, now time.Time) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if at, err := time.ParseInLocation(layout, raw, now.Location()); err == nil {
			return at, true
		}
		if s != raw {
			if at, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
				return at, true
			}
		}
	}
	if m := reTomorrowAt.FindStringSubmatch(s); m != nil {
		if hour, minute, ok := parseClock(m[1]); ok {
			tomorrow := now.AddDate(0, 0, 1)
			return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, minute, 0, 0, now.Location()), true
		}
	}
	clock := s
	if m := reAtClock.FindStringSubmatch(s); m != nil {
		clock = m[1]
	}
	if hour, minute, ok := parseClock(clock); ok {
		at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, true
	}
	return time.Time{}, false
}
