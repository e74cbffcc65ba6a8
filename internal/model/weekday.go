package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday is the canonical day-of-week enumeration. Values line up with
// time.Weekday so conversions are free.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

var weekdayAliases = map[string]Weekday{
	"sun": Sunday, "sunday": Sunday,
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tues": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thur": Thursday, "thurs": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
	// Short Russian names, as typed in the bot.
	"вс": Sunday, "пн": Monday, "вт": Tuesday, "ср": Wednesday,
	"чт": Thursday, "пт": Friday, "сб": Saturday,
}

// ParseWeekday is the only place where external weekday spellings are
// mapped to Weekday. Names are case-insensitive; numbers follow
// time.Weekday (0 = Sunday) and also accept 7 for Sunday.
func ParseWeekday(raw string) (Weekday, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if d, ok := weekdayAliases[value]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n == 7 {
			return Sunday, nil
		}
		if n >= 0 && n <= 6 {
			return Weekday(n), nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", raw)
}

// WeekdayOf returns the weekday of t in t's location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday(t.Weekday())
}

func (d Weekday) Valid() bool {
	return d >= Sunday && d <= Saturday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

func (d Weekday) Time() time.Weekday {
	return time.Weekday(d)
}

// WeekdaySet is a bitmask of weekdays. It is stored as a canonical
// comma-separated list such as "mon,wed,fri".
type WeekdaySet uint8

func NewWeekdaySet(days ...Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		if d.Valid() {
			s |= 1 << uint(d)
		}
	}
	return s
}

// ParseWeekdaySet parses a comma or space separated list of weekdays.
func ParseWeekdaySet(raw string) (WeekdaySet, error) {
	var s WeekdaySet
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	for _, f := range fields {
		d, err := ParseWeekday(f)
		if err != nil {
			return 0, err
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

func (s WeekdaySet) Has(d Weekday) bool {
	return d.Valid() && s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Len() int {
	n := 0
	for d := Sunday; d <= Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Days lists the members Monday first, Sunday last.
func (s WeekdaySet) Days() []Weekday {
	out := make([]Weekday, 0, 7)
	for _, d := range []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday} {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s WeekdaySet) String() string {
	days := s.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return strings.Join(names, ",")
}

func (s WeekdaySet) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *WeekdaySet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = 0
		return nil
	case string:
		parsed, err := ParseWeekdaySet(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("scan weekday set: unsupported type %T", src)
	}
}

func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	days := s.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return json.Marshal(names)
}

func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("weekday set: %w", err)
	}
	parsed, err := ParseWeekdaySet(strings.Join(names, ","))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
