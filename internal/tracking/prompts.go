package tracking

import "fmt"

var fallbackTemplates = []string{
	"What is the best %s for small businesses?",
	"Compare top %s options",
	"Which %s has the best features?",
	"%s with good customer support",
	"Affordable %s for startups",
	"%s that integrates with popular tools",
	"What %s do professionals recommend?",
	"Best %s for remote teams",
	"%s with free trial",
	"Easy to use %s for beginners",
}

// FallbackPrompts 由类别生成固定的提示词列表，最多 len(fallbackTemplates) 条
func FallbackPrompts(category string, count int) []string {
	if count > len(fallbackTemplates) {
		count = len(fallbackTemplates)
	}
	if count < 0 {
		count = 0
	}
	prompts := make([]string, 0, count)
	for _, tpl := range fallbackTemplates[:count] {
		prompts = append(prompts, fmt.Sprintf(tpl, category))
	}
	return prompts
}
