// Package recurrence expands a recurrence rule anchored on one appointment
// into the ordered, bounded list of occurrence windows for its series.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	// DefaultOccurrences bounds a series that names neither an end date nor
	// a count.
	DefaultOccurrences = 52
	// MaxOccurrences bounds every series regardless of its termination.
	MaxOccurrences = 366
)

var (
	ErrInvalidWindow   = errors.New("recurrence: anchor end must be after anchor start")
	ErrEndBeforeAnchor = errors.New("recurrence: end date is before the anchor date")
)

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
)

func (f Frequency) rrule() (rrule.Frequency, bool) {
	switch f {
	case Daily:
		return rrule.DAILY, true
	case Weekly:
		return rrule.WEEKLY, true
	case Monthly:
		return rrule.MONTHLY, true
	}
	return 0, false
}

// Rule selects the cadence of a series. Weekdays only applies to Weekly.
type Rule struct {
	Frequency Frequency      `json:"frequency"`
	Interval  int            `json:"interval,omitempty"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
}

// Termination stops expansion at whichever bound is reached first. EndDate is
// a calendar date and includes the whole of that day.
type Termination struct {
	EndDate *time.Time `json:"end_date,omitempty"`
	Count   int        `json:"count,omitempty"`
}

// Occurrence is one generated time window.
type Occurrence struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Rule) Validate() error {
	if _, ok := r.Frequency.rrule(); !ok {
		return fmt.Errorf("unsupported frequency %q", r.Frequency)
	}
	if r.Interval < 0 {
		return fmt.Errorf("interval must be positive, got %d", r.Interval)
	}
	if len(r.Weekdays) > 0 && r.Frequency != Weekly {
		return fmt.Errorf("weekdays are only valid for a weekly rule")
	}
	for _, wd := range r.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("invalid weekday %d", wd)
		}
	}
	return nil
}

func (t Termination) Validate() error {
	if t.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", t.Count)
	}
	return nil
}

// Expander generates occurrence sequences under configured safety caps.
type Expander struct {
	defaultCap int
	maxCap     int
}

// NewExpander returns an expander; non-positive caps fall back to the package
// defaults.
func NewExpander(defaultCap, maxCap int) *Expander {
	if maxCap <= 0 {
		maxCap = MaxOccurrences
	}
	if defaultCap <= 0 {
		defaultCap = DefaultOccurrences
	}
	if defaultCap > maxCap {
		defaultCap = maxCap
	}
	return &Expander{defaultCap: defaultCap, maxCap: maxCap}
}

func (e *Expander) limit(term Termination) int {
	switch {
	case term.Count > 0 && term.Count < e.maxCap:
		return term.Count
	case term.Count > 0 || term.EndDate != nil:
		return e.maxCap
	default:
		return e.defaultCap
	}
}

// Expand returns the series occurrences ordered by start. The anchor is
// always the first element, even when its weekday is outside the rule; every
// occurrence keeps the anchor's time of day and duration. The result depends
// only on the arguments.
func (e *Expander) Expand(anchorStart, anchorEnd time.Time, rule Rule, term Termination) ([]Occurrence, error) {
	if !anchorEnd.After(anchorStart) {
		return nil, ErrInvalidWindow
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := term.Validate(); err != nil {
		return nil, err
	}

	opt := toROption(rule)
	opt.Dtstart = anchorStart
	if term.EndDate != nil {
		until := EndOfDay(*term.EndDate, anchorStart.Location())
		if until.Before(anchorStart) {
			return nil, ErrEndBeforeAnchor
		}
		opt.Until = until
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rule: %w", err)
	}

	duration := anchorEnd.Sub(anchorStart)
	limit := e.limit(term)
	out := make([]Occurrence, 0, limit)
	out = append(out, Occurrence{Start: anchorStart, End: anchorEnd})

	next := r.Iterator()
	for len(out) < limit {
		start, ok := next()
		if !ok {
			break
		}
		if !start.After(anchorStart) {
			continue
		}
		out = append(out, Occurrence{Start: start, End: start.Add(duration)})
	}
	return out, nil
}

// EndOfDay returns the last instant of d's calendar date in loc.
func EndOfDay(d time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, 23, 59, 59, 0, loc)
}

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

func toROption(rule Rule) rrule.ROption {
	freq, _ := rule.Frequency.rrule()
	opt := rrule.ROption{Freq: freq, Interval: rule.Interval}
	if opt.Interval == 0 {
		opt.Interval = 1
	}
	days := append([]time.Weekday(nil), rule.Weekdays...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	for i, wd := range days {
		if i > 0 && days[i-1] == wd {
			continue
		}
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
	}
	return opt
}

// Format serialises a rule and its termination as an RFC 5545 RRULE body,
// which is what appointments store in recurring_rule.
func Format(rule Rule, term Termination, loc *time.Location) string {
	opt := toROption(rule)
	if term.Count > 0 {
		opt.Count = term.Count
	}
	if term.EndDate != nil {
		opt.Until = EndOfDay(*term.EndDate, loc).UTC()
	}
	return opt.RRuleString()
}

// ParseRule accepts a cadence keyword (Daily, Weekly, Biweekly, Monthly) or an
// RRULE body such as "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;COUNT=6".
func ParseRule(s string) (Rule, Termination, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return Rule{}, Termination{}, errors.New("recurrence rule is empty")
	case "daily":
		return Rule{Frequency: Daily, Interval: 1}, Termination{}, nil
	case "weekly":
		return Rule{Frequency: Weekly, Interval: 1}, Termination{}, nil
	case "biweekly":
		return Rule{Frequency: Weekly, Interval: 2}, Termination{}, nil
	case "monthly":
		return Rule{Frequency: Monthly, Interval: 1}, Termination{}, nil
	}

	opt, err := rrule.StrToROption(strings.TrimPrefix(s, "RRULE:"))
	if err != nil {
		return Rule{}, Termination{}, fmt.Errorf("parse recurrence rule: %w", err)
	}

	if part := unsupportedPart(opt); part != "" {
		return Rule{}, Termination{}, fmt.Errorf("unsupported rule part %s", part)
	}

	var rule Rule
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = Daily
	case rrule.WEEKLY:
		rule.Frequency = Weekly
	case rrule.MONTHLY:
		rule.Frequency = Monthly
	default:
		return Rule{}, Termination{}, fmt.Errorf("unsupported frequency %v", opt.Freq)
	}
	rule.Interval = opt.Interval
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return Rule{}, Termination{}, fmt.Errorf("unsupported ordinal weekday %s", wd.String())
		}
		rule.Weekdays = append(rule.Weekdays, time.Weekday((wd.Day()+1)%7))
	}

	term := Termination{Count: opt.Count}
	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		term.EndDate = &until
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, Termination{}, err
	}
	return rule, term, nil
}

// unsupportedPart names the first parsed RRULE part that Rule cannot carry.
// Dropping such a part would expand and store a different rule.
func unsupportedPart(opt *rrule.ROption) string {
	switch {
	case !opt.Dtstart.IsZero():
		return "DTSTART"
	case opt.Wkst != rrule.MO:
		return "WKST"
	case len(opt.Bysetpos) > 0:
		return "BYSETPOS"
	case len(opt.Bymonth) > 0:
		return "BYMONTH"
	case len(opt.Bymonthday) > 0:
		return "BYMONTHDAY"
	case len(opt.Byyearday) > 0:
		return "BYYEARDAY"
	case len(opt.Byweekno) > 0:
		return "BYWEEKNO"
	case len(opt.Byhour) > 0:
		return "BYHOUR"
	case len(opt.Byminute) > 0:
		return "BYMINUTE"
	case len(opt.Bysecond) > 0:
		return "BYSECOND"
	case len(opt.Byeaster) > 0:
		return "BYEASTER"
	}
	return ""
}
