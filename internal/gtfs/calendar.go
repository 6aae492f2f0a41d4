package gtfs

import (
	"time"

	"github.com/OneBusAway/go-gtfs"
)

type dateKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dateKey {
	y, m, d := t.Date()
	return dateKey{y, m, d}
}

func (k dateKey) before(o dateKey) bool {
	if k.year != o.year {
		return k.year < o.year
	}
	if k.month != o.month {
		return k.month < o.month
	}
	return k.day < o.day
}

type serviceRule struct {
	weekdays [7]bool
	start    dateKey
	end      dateKey
	hasRange bool
	added    map[dateKey]struct{}
	removed  map[dateKey]struct{}
}

// serviceCalendar answers calendar.txt and calendar_dates.txt questions.
// Dates are compared by calendar day, ignoring time zone.
type serviceCalendar struct {
	rules map[string]*serviceRule
}

func newServiceCalendar(services []gtfs.Service) *serviceCalendar {
	cal := &serviceCalendar{rules: make(map[string]*serviceRule, len(services))}
	for i := range services {
		s := &services[i]
		rule := &serviceRule{
			weekdays: [7]bool{s.Sunday, s.Monday, s.Tuesday, s.Wednesday, s.Thursday, s.Friday, s.Saturday},
			added:    make(map[dateKey]struct{}, len(s.AddedDates)),
			removed:  make(map[dateKey]struct{}, len(s.RemovedDates)),
		}
		if !s.StartDate.IsZero() && !s.EndDate.IsZero() {
			rule.start, rule.end, rule.hasRange = keyOf(s.StartDate), keyOf(s.EndDate), true
		}
		for _, d := range s.AddedDates {
			rule.added[keyOf(d)] = struct{}{}
		}
		for _, d := range s.RemovedDates {
			rule.removed[keyOf(d)] = struct{}{}
		}
		cal.rules[s.Id] = rule
	}
	return cal
}

func (cal *serviceCalendar) IsActive(serviceID string, serviceDate time.Time) bool {
	rule, ok := cal.rules[serviceID]
	if !ok {
		return false
	}
	day := keyOf(serviceDate)
	if _, removed := rule.removed[day]; removed {
		return false
	}
	if _, added := rule.added[day]; added {
		return true
	}
	if !rule.hasRange || day.before(rule.start) || rule.end.before(day) {
		return false
	}
	return rule.weekdays[serviceDate.Weekday()]
}
