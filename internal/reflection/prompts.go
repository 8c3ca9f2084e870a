package reflection

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/mazemind/internal/memory"
)

const questionPrompt = `You are an agent exploring a maze. Below are your most recent memories, oldest first.

%s
Given only the information above, what are the %d most salient high-level questions you can answer about your situation, your surroundings and how to reach the exit?
Reply with exactly %d questions, one per line, numbered 1 to %d.`

const insightPrompt = `You are an agent exploring a maze. Here are memories relevant to a question you asked yourself.

%s
Question: %s

Answer with a single insight of one or two sentences that generalizes beyond any single memory. Reply with the insight only.`

const categoryPrompt = `Classify the following insight from an agent exploring a maze into exactly one category.

Categories:
- strategy: a plan or approach for acting
- pattern: a regularity observed in the environment
- emotional: how the agent feels
- learning: a fact or lesson the agent now knows
- social: about other agents
- meta: about the agent's own thinking or past reflections

Insight: %s

Reply with the category name only.`

const importancePrompt = `On a scale of 1 to 10, where 1 is purely mundane (for example, taking a step down an empty corridor) and 10 is extremely poignant (for example, finding the exit or falling into a trap), rate the likely importance of the following memory for an agent escaping a maze.

Memory: %s

Reply with a single integer.`

func formatMemories(memories []memory.Memory) string {
	var b strings.Builder
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Text)
	}
	return b.String()
}

func buildQuestionPrompt(recent []memory.Memory, n int) string {
	return fmt.Sprintf(questionPrompt, formatMemories(recent), n, n, n)
}

func buildInsightPrompt(question string, evidence []memory.Memory) string {
	return fmt.Sprintf(insightPrompt, formatMemories(evidence), question)
}

func buildCategoryPrompt(insight string) string {
	return fmt.Sprintf(categoryPrompt, insight)
}

func buildImportancePrompt(text string) string {
	return fmt.Sprintf(importancePrompt, text)
}

var listMarker = regexp.MustCompile(`(?i)^\s*(?:(?:q(?:uestion)?\s*)?\d+\s*[.):-]|[-*•])\s*`)

// parseQuestions reads up to n questions from a numbered or bulleted
// reply. Blank lines and headings ending in a colon are skipped.
func parseQuestions(reply string, n int) []string {
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

var insightLabel = regexp.MustCompile(`(?i)^\s*(?:insight|answer)\s*:\s*`)

// cleanInsight strips a leading label and keeps at most two sentences.
func cleanInsight(reply string) string {
	text := strings.TrimSpace(insightLabel.ReplaceAllString(reply, ""))
	text = strings.Join(strings.Fields(text), " ")
	return firstSentences(text, 2)
}

func firstSentences(text string, n int) string {
	runes := []rune(text)
	count := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == n {
			return string(runes[:i+1])
		}
	}
	return text
}

// parseCategory returns the first category named in reply.
func parseCategory(reply string) (memory.Category, bool) {
	for _, word := range strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if c := memory.Category(word); c.Valid() {
			return c, true
		}
	}
	return "", false
}

var firstInt = regexp.MustCompile(`\d+`)

// parseImportance returns the first integer in reply if it lies in 1..10.
func parseImportance(reply string) (int, bool) {
	digits := firstInt.FindString(reply)
	if digits == "" {
		return 0, false
	}
	v, err := strconv.Atoi(digits)
	if err != nil || v < memory.MinImportance || v > memory.MaxImportance {
		return 0, false
	}
	return v, true
}
