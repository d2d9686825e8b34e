package counter

import "sort"

// Summary is an aggregated view over counter rows, used by status and stats
// output.
type Summary struct {
	Total       int64
	ByDay       []GroupCount
	ByComponent []GroupCount
	ByEvent     []GroupCount
}

// GroupCount is one aggregation bucket.
type GroupCount struct {
	Name  string
	Times int64
}

// Summarize groups counter rows by day, component and event. ByDay is sorted
// chronologically; the other groups by descending count, ties broken by name.
func Summarize(counts []Count) Summary {
	byDay := make(map[string]int64)
	byComponent := make(map[string]int64)
	byEvent := make(map[string]int64)

	var summary Summary
	for _, c := range counts {
		summary.Total += c.Times
		byDay[c.Day] += c.Times
		byComponent[c.Component] += c.Times
		byEvent[c.Event] += c.Times
	}

	summary.ByDay = toGroups(byDay)
	sort.Slice(summary.ByDay, func(i, j int) bool {
		return summary.ByDay[i].Name < summary.ByDay[j].Name
	})
	summary.ByComponent = sortByTimes(toGroups(byComponent))
	summary.ByEvent = sortByTimes(toGroups(byEvent))
	return summary
}

func toGroups(m map[string]int64) []GroupCount {
	groups := make([]GroupCount, 0, len(m))
	for name, times := range m {
		groups = append(groups, GroupCount{Name: name, Times: times})
	}
	return groups
}

func sortByTimes(groups []GroupCount) []GroupCount {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Times != groups[j].Times {
			return groups[i].Times > groups[j].Times
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}
