package analyze

import (
	"strconv"
	"strings"

	"github.com/odvcencio/issuelens/internal/models"
)

const (
	maxBodyChars = 500

	synthesisInstruction = "Summarize and combine the following analyses into a single coherent response:\n\n"
)

// formatBatch renders a batch of issues as the LLM context block.
func formatBatch(issues []models.Issue) string {
	if len(issues) == 0 {
		return "No issues found."
	}
	var b strings.Builder
	b.WriteString("GitHub Issues:\n\n")
	for i := range issues {
		b.WriteString(formatIssue(&issues[i]))
	}
	return b.String()
}

func formatIssue(issue *models.Issue) string {
	var b strings.Builder
	b.WriteString("Issue #")
	b.WriteString(strconv.Itoa(issue.Number))
	b.WriteString(":\n")
	b.WriteString("Title: " + issue.Title + "\n")
	b.WriteString("Created: " + issue.CreatedAt.UTC().Format("2006-01-02T15:04:05Z") + "\n")
	b.WriteString("URL: " + issue.URL + "\n")
	if issue.Body != "" {
		body := issue.Body
		if len(body) > maxBodyChars {
			body = body[:maxBodyChars] + "..."
		}
		b.WriteString("Description: " + body + "\n")
	}
	if len(issue.Labels) > 0 {
		b.WriteString("Labels: " + strings.Join(issue.Labels, ", ") + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

// synthesisPrompt asks the model to merge the ordered partial answers into one
// response to the original instruction.
func synthesisPrompt(prompt string, partials []string) string {
	var b strings.Builder
	b.WriteString(synthesisInstruction)
	b.WriteString("Original question: " + prompt + "\n\n")
	b.WriteString(strings.Join(partials, "\n\n---\n\n"))
	return b.String()
}

