package reflection

import (
	"strings"
	"testing"

	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"github.com/stretchr/testify/assert"
)

func TestParseQuestions(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		n     int
		want  []string
	}{
		{"numbered", "1. Where am I?\n2) What next?\n3 - Who else is here?", 3, []string{"Where am I?", "What next?", "Who else is here?"}},
		{"bullets and heading", "Here are the questions:\n- Where am I?\n* What next?", 3, []string{"Where am I?", "What next?"}},
		{"prefixed", "Q1: Is the exit north?\nQuestion 2. Are traps common?", 3, []string{"Is the exit north?", "Are traps common?"}},
		{"capped", "a?\nb?\nc?\nd?", 2, []string{"a?", "b?"}},
		{"quoted", "1. \"Where is the key?\"", 1, []string{"Where is the key?"}},
		{"blank", "\n \n", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseQuestions(tt.reply, tt.n))
		})
	}
}

func TestCleanInsight(t *testing.T) {
	assert.Equal(t, "Left turns lead north. Keep going.",
		cleanInsight("Insight: Left turns lead north. Keep going. Extra detail."))
	assert.Equal(t, "The map is at v1.2 of the maze layout.",
		cleanInsight("The map is at v1.2 of the maze layout."), "dots inside words do not end sentences")
	assert.Equal(t, "No terminal punctuation", cleanInsight("  No terminal\n punctuation "))
	assert.Empty(t, cleanInsight("Answer:   "))
}

func TestParseCategory(t *testing.T) {
	c, ok := parseCategory("STRATEGY")
	assert.True(t, ok)
	assert.Equal(t, memory.CategoryStrategy, c)

	c, ok = parseCategory("I think this is emotional.")
	assert.True(t, ok)
	assert.Equal(t, memory.CategoryEmotional, c)

	_, ok = parseCategory("none of these")
	assert.False(t, ok)
}

func TestParseImportance(t *testing.T) {
	for reply, want := range map[string]int{"7": 7, "Rating: 3/10": 3, "10": 10} {
		v, ok := parseImportance(reply)
		assert.True(t, ok, reply)
		assert.Equal(t, want, v, reply)
	}
	for _, reply := range []string{"0", "12", "high"} {
		_, ok := parseImportance(reply)
		assert.False(t, ok, reply)
	}
}

func TestPrompts(t *testing.T) {
	recent := []memory.Memory{{Text: "saw a torch"}, {Text: "heard water"}}
	p := buildQuestionPrompt(recent, 3)
	assert.Contains(t, p, "1. saw a torch\n2. heard water\n")
	assert.Contains(t, p, "3 most salient high-level questions")

	p = buildInsightPrompt("Where is water?", recent)
	assert.Contains(t, p, "Question: Where is water?")
	assert.True(t, strings.Contains(buildCategoryPrompt("x"), "Insight: x"))
	assert.Contains(t, buildImportancePrompt("found the exit"), "Memory: found the exit")
}
