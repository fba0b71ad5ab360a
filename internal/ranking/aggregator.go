package ranking

import (
	"math"
	"sort"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
)

// Summary is the scan-level output of Aggregate.
type Summary struct {
	// AvgRank is the mean of the target's non-nil ranks; nil if it never ranked.
	AvgRank *float64
	// ShareOfVoice is the target's share of top-3 slots across all observations.
	ShareOfVoice float64
	// TopCompetitor is the name of the competitor with the highest share of voice.
	TopCompetitor string
	Competitors   []domain.CompetitorStat
	Observations  int
}

type group struct {
	stat       domain.CompetitorStat
	rankSum    int
	maxReviews int
}

// Aggregate computes summary metrics from a scan's observations. previous
// holds the competitor stats of the comparable prior scan, or nil.
//
// Every share of voice uses the number of observations as its denominator,
// and an entity counts at most once per observation, so shares stay in [0, 100].
// Entities flagged as the target are excluded from competitor stats. Output
// does not depend on the order of results.
func Aggregate(results []domain.GridPointResult, previous []domain.CompetitorStat) Summary {
	ordered := make([]domain.GridPointResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Keyword != b.Keyword {
			return a.Keyword < b.Keyword
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})

	summary := Summary{Observations: len(ordered), Competitors: []domain.CompetitorStat{}}
	if len(ordered) == 0 {
		return summary
	}

	var (
		rankSum, ranked, targetTop3 int
		groups                      = map[string]*group{}
	)

	for _, r := range ordered {
		if r.Rank != nil {
			rankSum += *r.Rank
			ranked++
			if *r.Rank <= 3 {
				targetTop3++
			}
		}

		// best rank per identity within this observation
		best := map[string]domain.RankedEntity{}
		for _, e := range r.Competitors {
			if e.IsTarget || e.Rank < 1 {
				continue
			}
			id := Identity(e)
			if cur, ok := best[id]; !ok || e.Rank < cur.Rank {
				best[id] = e
			}
		}

		for id, e := range best {
			g, ok := groups[id]
			if !ok {
				g = &group{stat: domain.CompetitorStat{
					Identity:     id,
					BusinessName: e.Name,
					ExternalID:   e.ExternalID,
					Domain:       NormalizeDomain(e.Domain),
				}}
				g.maxReviews = -1
				groups[id] = g
			}
			g.stat.Appearances++
			g.rankSum += e.Rank
			if e.Rank <= 3 {
				g.stat.Top3Count++
			}
			if e.Rank <= 10 {
				g.stat.Top10Count++
			}
			if e.Rank <= 20 {
				g.stat.Top20Count++
			}
			if e.ReviewCount > g.maxReviews {
				g.maxReviews = e.ReviewCount
				g.stat.Rating = e.Rating
				g.stat.ReviewCount = e.ReviewCount
			}
		}
	}

	total := float64(len(ordered))
	if ranked > 0 {
		avg := round2(float64(rankSum) / float64(ranked))
		summary.AvgRank = &avg
	}
	summary.ShareOfVoice = round2(float64(targetTop3) / total * 100)

	prevByID := make(map[string]domain.CompetitorStat, len(previous))
	for _, p := range previous {
		prevByID[p.Identity] = p
	}

	for _, g := range groups {
		s := g.stat
		s.AvgRank = round2(float64(g.rankSum) / float64(s.Appearances))
		s.ShareOfVoice = round2(float64(s.Top3Count) / total * 100)
		if p, ok := prevByID[s.Identity]; ok && p.Appearances > 0 {
			prev := p.AvgRank
			s.PreviousAvgRank = &prev
			s.RankChange = RankChange(&prev, &s.AvgRank)
		}
		summary.Competitors = append(summary.Competitors, s)
	}

	sort.Slice(summary.Competitors, func(i, j int) bool {
		a, b := summary.Competitors[i], summary.Competitors[j]
		if a.ShareOfVoice != b.ShareOfVoice {
			return a.ShareOfVoice > b.ShareOfVoice
		}
		if a.AvgRank != b.AvgRank {
			return a.AvgRank < b.AvgRank
		}
		return a.Identity < b.Identity
	})

	for _, s := range summary.Competitors {
		if s.ShareOfVoice > 0 {
			summary.TopCompetitor = s.BusinessName
			break
		}
	}
	return summary
}

// RankChange returns previous - current, positive when the rank improved.
// It is nil when either side is unknown.
func RankChange(previous, current *float64) *float64 {
	if previous == nil || current == nil {
		return nil
	}
	d := round2(*previous - *current)
	return &d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
