package llm

import (
	"regexp"
	"sort"
	"strings"

	"github.com/qs3c/visibility_server/internal/model"
)

const maxContexts = 3

var (
	// 句末标点后跟空白或文本结尾才算断句，URL 和小数不会被拆开
	sentenceBoundary = regexp.MustCompile(`[.!?]+(\s+|$)`)
	urlPattern       = regexp.MustCompile(`https?://[^\s)\]>"']+`)

	defaultCitations = []string{"Documentation", "Official Website"}
)

// AnalyzeMentions 统计每个实体在回答中的出现情况，按首次出现位置排序
func AnalyzeMentions(text string, entities []string) []model.Mention {
	lowerText := strings.ToLower(text)
	sentences := sentenceBoundary.Split(text, -1)

	var mentions []model.Mention
	seen := make(map[string]bool, len(entities))
	for _, entity := range entities {
		if entity == "" || seen[entity] {
			continue
		}
		seen[entity] = true

		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(entity) + `\b`)
		count := len(pattern.FindAllStringIndex(text, -1))
		if count == 0 {
			continue
		}

		lowerEntity := strings.ToLower(entity)
		var contexts []string
		for _, s := range sentences {
			if s = strings.TrimSpace(s); s != "" && strings.Contains(strings.ToLower(s), lowerEntity) {
				contexts = append(contexts, s)
			}
		}

		var citations []string
		for _, c := range contexts {
			for _, u := range urlPattern.FindAllString(c, -1) {
				citations = append(citations, strings.TrimRight(u, ".,;:"))
			}
		}
		if len(citations) == 0 {
			citations = append([]string{}, defaultCitations...)
		}

		if len(contexts) > maxContexts {
			contexts = contexts[:maxContexts]
		}

		mentions = append(mentions, model.Mention{
			Entity:    entity,
			Count:     count,
			Contexts:  contexts,
			Citations: citations,
			Position:  strings.Index(lowerText, lowerEntity),
		})
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].Position < mentions[j].Position
	})
	return mentions
}
