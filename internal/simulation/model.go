package simulation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/reflection"
)

// ScriptedModelName is the provider name of ScriptedModel.
const ScriptedModelName = "scripted"

var (
	firstMemory = regexp.MustCompile(`(?m)^1\. (.+)$`)
	questionRe  = regexp.MustCompile(`(?m)^Question: (.+)$`)
	insightRe   = regexp.MustCompile(`(?m)^Insight: (.+)$`)
	memoryRe    = regexp.MustCompile(`(?m)^Memory: (.+)$`)
)

// ScriptedModel is an offline llm.Client that answers the reflection and
// importance prompts deterministically from their content, so simulations
// build reflection trees without a model server.
type ScriptedModel struct{}

// Name implements llm.Client.
func (ScriptedModel) Name() string { return ScriptedModelName }

// Probe implements llm.Client.
func (ScriptedModel) Probe(context.Context) error { return nil }

// Generate implements llm.Client.
func (ScriptedModel) Generate(_ context.Context, prompt string, _ llm.Options) (llm.Completion, error) {
	var text string
	switch {
	case strings.Contains(prompt, "salient high-level questions"):
		text = "1. Which routes bring me closer to the exit?\n" +
			"2. Which places should I avoid?\n" +
			"3. What have I learned about how this maze is built?"
	case strings.Contains(prompt, "single insight"):
		text = scriptedInsight(prompt)
	case strings.Contains(prompt, "Classify the following insight"):
		text = scriptedCategory(match(insightRe, prompt))
	case strings.Contains(prompt, "rate the likely importance"):
		text = strconv.Itoa(reflection.HeuristicImportance(match(memoryRe, prompt)))
	default:
		return llm.Completion{}, fmt.Errorf("scripted model: unrecognized prompt")
	}
	return llm.Completion{Text: text, Tokens: len(strings.Fields(prompt)) + len(strings.Fields(text))}, nil
}

func scriptedInsight(prompt string) string {
	evidence := strings.TrimSuffix(match(firstMemory, prompt), ".")
	question := strings.ToLower(match(questionRe, prompt))
	switch {
	case strings.Contains(question, "avoid"):
		return fmt.Sprintf("I should avoid repeating what happened when %s.", lowerFirst(evidence))
	case strings.Contains(question, "routes"):
		return fmt.Sprintf("My best route builds on the fact that %s.", lowerFirst(evidence))
	default:
		return fmt.Sprintf("I learned that %s.", lowerFirst(evidence))
	}
}

func scriptedCategory(insight string) string {
	l := strings.ToLower(insight)
	switch {
	case strings.Contains(l, "avoid"), strings.Contains(l, "route"):
		return "strategy"
	case strings.Contains(l, "always"), strings.Contains(l, "every"):
		return "pattern"
	default:
		return "learning"
	}
}

func match(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func lowerFirst(s string) string {
	if s == "" {
		return "nothing stood out"
	}
	if strings.HasPrefix(s, "I ") {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
