package engine

import (
	"sort"
	"time"
)

// DayIntervals holds the intervals closed during one calendar day of a scan
type DayIntervals struct {
	Day       time.Time // midnight UTC of the civil date
	Intervals []Opportunity
}

// civilDay returns midnight UTC of t's calendar date in t's own location
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// groupConsecutiveDays splits days into runs of adjacent calendar dates.
// A new group starts whenever the gap to the previous date exceeds one day.
func groupConsecutiveDays(days []DayIntervals) [][]Opportunity {
	sorted := make([]DayIntervals, 0, len(days))
	for _, d := range days {
		if len(d.Intervals) > 0 {
			sorted = append(sorted, d)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Day.Before(sorted[j].Day)
	})

	var groups [][]Opportunity
	var current []Opportunity
	var previous time.Time

	for i, d := range sorted {
		if i == 0 || d.Day.Sub(previous) <= 24*time.Hour {
			current = append(current, d.Intervals...)
		} else {
			groups = append(groups, current)
			current = append([]Opportunity(nil), d.Intervals...)
		}
		previous = d.Day
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// bestByIllumination picks the interval with the highest max illumination.
// Ties keep the earliest interval in scan order.
func bestByIllumination(group []Opportunity) Opportunity {
	best := group[0]
	for _, o := range group[1:] {
		if o.MaxIllumination > best.MaxIllumination {
			best = o
		}
	}
	return best
}

// SelectOpportunities groups intervals by consecutive days, keeps the brightest
// interval of each group, and returns up to count of them by start time.
func SelectOpportunities(days []DayIntervals, count int) []Opportunity {
	groups := groupConsecutiveDays(days)

	selected := make([]Opportunity, 0, len(groups))
	for _, g := range groups {
		selected = append(selected, bestByIllumination(g))
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Start.Before(selected[j].Start)
	})

	if count >= 0 && len(selected) > count {
		selected = selected[:count]
	}
	return selected
}
