package calendar

import (
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

const maxOccurrencesPerEvent = 1000

// expand turns parsed VEVENTs into occurrences overlapping [from, to).
// RECURRENCE-ID overrides replace the matching generated occurrence.
func expand(events []vevent, source string, from, to time.Time) []Event {
	base := make(map[string][]vevent)
	overrides := make(map[string][]vevent)
	var order []string
	for _, ev := range events {
		if ev.Override != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := base[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		base[ev.UID] = append(base[ev.UID], ev)
	}

	var out []Event
	for _, uid := range order {
		for _, ev := range base[uid] {
			for _, occ := range occurrences(ev, overrides[uid], from, to) {
				occ.Source = source
				out = append(out, occ)
			}
		}
	}
	return out
}

func occurrences(ev vevent, overrides []vevent, from, to time.Time) []Event {
	if ev.RRule == "" {
		if ev.Start.Before(to) && ev.End.After(from) {
			return []Event{toEvent(ev, ev.Start, ev.End)}
		}
		return nil
	}

	rule, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		zap.L().Debug("[Calendar] bad RRULE", zap.String("uid", ev.UID), zap.String("rrule", ev.RRule), zap.Error(err))
		return nil
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Start the window one duration early so occurrences already running at
	// from are kept.
	starts := set.Between(from.Add(-dur).In(ev.Start.Location()), to.In(ev.Start.Location()), false)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}

	var out []Event
	for _, s := range starts {
		occ := ev
		start, end := s, s.Add(dur)
		if ev.AllDay {
			day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			start, end = day, day.AddDate(0, 0, int(dur.Hours()/24+0.5))
		}
		for _, o := range overrides {
			if o.Override.Equal(s) {
				occ, start, end = o, o.Start, o.End
				break
			}
		}
		if start.Before(to) && end.After(from) {
			out = append(out, toEvent(occ, start, end))
		}
	}
	return out
}

func toEvent(ev vevent, start, end time.Time) Event {
	return Event{UID: ev.UID, Summary: ev.Summary, Start: start, End: end, AllDay: ev.AllDay}
}
