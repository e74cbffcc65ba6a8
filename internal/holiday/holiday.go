// Package holiday serves public holidays per country from a YAML table.
package holiday

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"family-planner/internal/model"
)

// Holiday is one public holiday on a calendar date.
type Holiday struct {
	Date string `yaml:"date" json:"date"`
	Name string `yaml:"name" json:"name"`
}

// Source answers which holidays of a country fall in a date range.
type Source interface {
	Holidays(ctx context.Context, country string, from, to time.Time) ([]Holiday, error)
}

// Table maps an upper-case country code to its holidays. Dates are either
// "2006-01-02" (one year) or "01-02" (every year).
type Table map[string][]Holiday

// Load reads a Table from a YAML file such as
//
//	DE:
//	  - {date: "01-01", name: Neujahr}
//	  - {date: "2025-04-18", name: Karfreitag}
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holidays: %w", err)
	}
	var raw map[string][]Holiday
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode holidays %s: %w", path, err)
	}

	table := make(Table, len(raw))
	for country, list := range raw {
		for _, h := range list {
			if _, err := parseEntry(h.Date); err != nil {
				return nil, fmt.Errorf("holiday %q in %s: %w", h.Name, country, err)
			}
		}
		table[strings.ToUpper(country)] = list
	}
	return table, nil
}

type entry struct {
	annual     bool
	year       int
	month, day int
}

func parseEntry(raw string) (entry, error) {
	if t, err := time.Parse(model.DateLayout, raw); err == nil {
		return entry{year: t.Year(), month: int(t.Month()), day: t.Day()}, nil
	}
	if t, err := time.Parse("01-02", raw); err == nil {
		return entry{annual: true, month: int(t.Month()), day: t.Day()}, nil
	}
	return entry{}, fmt.Errorf("invalid date %q", raw)
}

// Holidays lists the country's holidays on dates from..to inclusive, with
// annual entries resolved to concrete dates.
func (t Table) Holidays(_ context.Context, country string, from, to time.Time) ([]Holiday, error) {
	list := t[strings.ToUpper(country)]
	if len(list) == 0 {
		return nil, nil
	}

	var out []Holiday
	for _, day := range model.Days(from, to) {
		for _, h := range list {
			e, err := parseEntry(h.Date)
			if err != nil {
				continue
			}
			if int(day.Month()) != e.month || day.Day() != e.day {
				continue
			}
			if !e.annual && day.Year() != e.year {
				continue
			}
			out = append(out, Holiday{Date: model.DateKey(day), Name: h.Name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
