package analyze

import "github.com/odvcencio/issuelens/internal/models"

// charsPerToken is the usual rough estimate for English prose.
const charsPerToken = 4

// EstimateTokens maps an issue to the approximate token cost of its serialized
// form in the LLM context.
func EstimateTokens(issue *models.Issue) int {
	return len(formatIssue(issue))/charsPerToken + 1
}

// Split packs issues into batches that fit the token budget, greedily and in
// input order. A single issue whose own estimate exceeds the budget forms a
// singleton batch rather than being dropped or split; the LLM call for that
// batch owns truncation or failure. Deterministic for a fixed input and
// budget. An empty input yields zero batches.
func Split(issues []models.Issue, budget int, estimate func(*models.Issue) int) [][]models.Issue {
	if len(issues) == 0 {
		return nil
	}

	var batches [][]models.Issue
	var current []models.Issue
	running := 0

	for i := range issues {
		cost := estimate(&issues[i])
		if len(current) > 0 && running+cost > budget {
			batches = append(batches, current)
			current = nil
			running = 0
		}
		current = append(current, issues[i])
		running += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
