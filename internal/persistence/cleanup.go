package persistence

import "tripsync/internal/domain"

type CleanupStats struct {
	Items    int `json:"items"`
	Plan     int `json:"plan"`
	Comments int `json:"comments"`
}

func (s CleanupStats) Total() int {
	return s.Items + s.Plan + s.Comments
}

// Cleanup returns a copy of doc with every tombstone physically removed and
// the surviving items of each day renumbered 0..n-1. doc itself is not
// touched.
func Cleanup(doc *domain.TripDocument) (*domain.TripDocument, CleanupStats) {
	var stats CleanupStats
	out := doc.Clone()
	if out == nil {
		return nil, stats
	}

	for _, day := range out.Days {
		live := day.Items[:0]
		for _, item := range day.Items {
			if item.Deleted {
				stats.Items++
				continue
			}

			plan := item.Plan[:0]
			for _, p := range item.Plan {
				if p.Deleted {
					stats.Plan++
					continue
				}
				plan = append(plan, p)
			}
			item.Plan = plan

			comments := item.Comments[:0]
			for _, c := range item.Comments {
				if c.Deleted {
					stats.Comments++
					continue
				}
				comments = append(comments, c)
			}
			item.Comments = comments

			live = append(live, item)
		}
		for i, item := range live {
			item.Order = i
		}
		day.Items = live
	}

	return out, stats
}
