package dispatch

import "strings"

// TaskCategory is a coarse classification of what a prompt asks for.
// Smart-Auto-Mode maps it to a logical model through the configured
// category table.
type TaskCategory string

const (
	TaskCode        TaskCategory = "code"
	TaskExplanation TaskCategory = "explanation"
	TaskTranslation TaskCategory = "translation"
	TaskAnalysis    TaskCategory = "analysis"
	TaskReasoning   TaskCategory = "reasoning"
)

// taskRule pairs a category with the substrings that select it.
type taskRule struct {
	category TaskCategory
	keywords []string
}

// taskRules are evaluated in priority order; the first keyword hit wins.
// A prompt containing both a code keyword and a reasoning keyword is a
// code task. Keywords cover English and Russian prompts.
var taskRules = []taskRule{
	{TaskCode, []string{
		"code", "function", "debug", "script", "program", "compile",
		"implement", "refactor", "algorithm", "regex", "bug",
		"код", "функци", "скрипт", "программ", "алгоритм", "баг", "отлад",
	}},
	{TaskExplanation, []string{
		"explain", "what is", "what does", "how does", "describe",
		"объясни", "что такое", "как работает", "расскажи",
	}},
	{TaskTranslation, []string{
		"translate", "translation",
		"переведи", "перевод",
	}},
	{TaskAnalysis, []string{
		"analyze", "analyse", "analysis", "compare", "evaluate", "review",
		"анализ", "сравни", "оцени",
	}},
	{TaskReasoning, []string{
		"why", "prove", "solve", "step by step",
		"почему", "докажи", "реши",
	}},
}

// ClassifyTask maps a prompt to a task category by case-insensitive
// substring matching against the ordered keyword rules. Prompts that
// match nothing default to reasoning.
func ClassifyTask(prompt string) TaskCategory {
	lower := strings.ToLower(prompt)
	for _, rule := range taskRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.category
			}
		}
	}
	return TaskReasoning
}
