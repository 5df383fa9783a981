package tracking

import (
	"math"

	"github.com/qs3c/visibility_server/internal/model"
)

// Compute 将查询结果聚合为各实体的指标，纯函数
func Compute(results []model.QueryResult, entities, competitors []string) *model.MetricsReport {
	order := make([]string, 0, len(entities)+len(competitors))
	stats := make(map[string]*model.BrandStats, len(entities)+len(competitors))
	for _, name := range append(append([]string{}, entities...), competitors...) {
		if _, ok := stats[name]; ok {
			continue
		}
		order = append(order, name)
		stats[name] = &model.BrandStats{
			TotalPrompts: len(results),
			MentionedIn:  []string{},
			MissingIn:    []string{},
			Contexts:     []string{},
			CitedPages:   []string{},
		}
	}

	for _, r := range results {
		mentioned := make(map[string]bool, len(r.Mentions))
		for _, m := range r.Mentions {
			s, ok := stats[m.Entity]
			if !ok {
				continue
			}
			s.TotalMentions += m.Count
			s.Contexts = append(s.Contexts, m.Contexts...)
			s.CitedPages = append(s.CitedPages, m.Citations...)
			if !mentioned[m.Entity] {
				s.MentionedIn = append(s.MentionedIn, r.Prompt)
				mentioned[m.Entity] = true
			}
		}
		for _, name := range order {
			if !mentioned[name] {
				stats[name].MissingIn = append(stats[name].MissingIn, r.Prompt)
			}
		}
	}

	grandTotal := 0
	for _, name := range order {
		grandTotal += stats[name].TotalMentions
	}

	for _, name := range order {
		s := stats[name]
		if grandTotal > 0 {
			s.CitationShare = round2(float64(s.TotalMentions) * 100 / float64(grandTotal))
		}
		if s.TotalPrompts > 0 {
			s.VisibilityScore = round2(float64(len(s.MentionedIn)) * 100 / float64(s.TotalPrompts))
		}
		s.CitedPages = dedupe(s.CitedPages)
	}

	return &model.MetricsReport{
		Entities:   order,
		BrandStats: stats,
		Summary: model.MetricsSummary{
			TotalPrompts:    len(results),
			TotalMentions:   grandTotal,
			TrackedCount:    len(entities),
			CompetitorCount: len(competitors),
		},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// dedupe 去重并保留首次出现的顺序
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
