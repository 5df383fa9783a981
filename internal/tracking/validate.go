package tracking

import (
	"strings"

	"github.com/qs3c/visibility_server/config"
	"github.com/qs3c/visibility_server/internal/model"
	"github.com/qs3c/visibility_server/internal/pkg/resilience"
)

// Normalize 清理并校验任务参数，失败返回 validation 错误
func Normalize(p *model.TrackingPayload, rules *config.ValidationConfig) error {
	p.Category = strings.TrimSpace(p.Category)
	p.Brands = compact(p.Brands)
	p.Competitors = compact(p.Competitors)
	if p.Mode == "" {
		p.Mode = model.ModeNormal
	}

	if p.Category == "" {
		return resilience.Validation("category must be a non-empty string")
	}
	if n := len([]rune(p.Category)); n < rules.MinCategoryLength || n > rules.MaxCategoryLength {
		return resilience.Validation("category length must be between %d and %d characters",
			rules.MinCategoryLength, rules.MaxCategoryLength)
	}
	if len(p.Brands) == 0 {
		return resilience.Validation("at least one brand is required")
	}
	if len(p.Brands) > rules.MaxBrands {
		return resilience.Validation("maximum %d brands allowed", rules.MaxBrands)
	}
	if len(p.Competitors) > rules.MaxCompetitors {
		return resilience.Validation("maximum %d competitors allowed", rules.MaxCompetitors)
	}
	if p.Mode != model.ModeNormal && p.Mode != model.ModeCompetitor {
		return resilience.Validation("unknown mode %q", p.Mode)
	}
	return nil
}

func compact(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
