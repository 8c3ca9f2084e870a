package reflection

import (
	"context"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"go.uber.org/zap"
)

// Source names the strategy that produced a classification or estimate.
type Source string

const (
	SourceLLM       Source = "llm"
	SourceKeyword   Source = "keyword"
	SourceHeuristic Source = "heuristic"
	SourceDefault   Source = "default"
)

// Generator produces text from a prompt. *llm.Service satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// maxClassifyLength caps input to bound regex evaluation time.
const maxClassifyLength = 4096

// Classification is the category assigned to a text and where it came
// from.
type Classification struct {
	Category   memory.Category `json:"category"`
	Source     Source          `json:"source"`
	Confidence float64         `json:"confidence"`
}

// ClassifierStrategy is one step of a Classifier chain. It reports false
// when it cannot decide, letting the next strategy try. An error is logged
// and treated the same way.
type ClassifierStrategy interface {
	Classify(ctx context.Context, text string) (Classification, bool, error)
}

// Classifier runs strategies in order and returns the first decision. If
// none decides, it returns the learning category.
type Classifier struct {
	strategies []ClassifierStrategy
	logger     *zap.Logger
}

// NewClassifier creates a chain over strategies.
func NewClassifier(logger *zap.Logger, strategies ...ClassifierStrategy) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{strategies: strategies, logger: logger}
}

// NewDefaultClassifier chains the LLM, keyword and default strategies. A
// nil gen leaves the LLM step out.
func NewDefaultClassifier(gen Generator, logger *zap.Logger) *Classifier {
	var strategies []ClassifierStrategy
	if gen != nil {
		strategies = append(strategies, &LLMClassifier{gen: gen})
	}
	strategies = append(strategies, NewKeywordClassifier(), DefaultCategory(memory.CategoryLearning))
	return NewClassifier(logger, strategies...)
}

// Classify assigns a category to text. It fails only when ctx is done.
func (c *Classifier) Classify(ctx context.Context, text string) (Classification, error) {
	for _, s := range c.strategies {
		cl, ok, err := s.Classify(ctx, text)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Classification{}, ctxErr
		}
		if err != nil {
			c.logger.Debug("classifier strategy failed, trying next", zap.Error(err))
			continue
		}
		if ok {
			return cl, nil
		}
	}
	return Classification{Category: memory.CategoryLearning, Source: SourceDefault, Confidence: 0.5}, nil
}

// LLMClassifier asks the language model for a category.
type LLMClassifier struct {
	gen Generator
}

// NewLLMClassifier creates an LLM classification step.
func NewLLMClassifier(gen Generator) *LLMClassifier {
	return &LLMClassifier{gen: gen}
}

// Classify implements ClassifierStrategy.
func (l *LLMClassifier) Classify(ctx context.Context, text string) (Classification, bool, error) {
	reply, err := l.gen.Generate(ctx, buildCategoryPrompt(text), llm.Options{Temperature: llm.Float(0.1), MaxTokens: 8})
	if err != nil {
		return Classification{}, false, err
	}
	cat, ok := parseCategory(reply)
	if !ok {
		return Classification{}, false, nil
	}
	return Classification{Category: cat, Source: SourceLLM, Confidence: 0.9}, true, nil
}

type categoryRule struct {
	pattern    *regexp.Regexp
	category   memory.Category
	confidence float64
}

// KeywordClassifier matches ordered keyword patterns; the first match wins.
type KeywordClassifier struct {
	rules []categoryRule
}

// NewKeywordClassifier creates the keyword step with the built-in rules.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		rules: []categoryRule{
			// Statements about the agent's own reasoning come first since
			// they often also mention plans or feelings.
			{
				pattern:    regexp.MustCompile(`(?i)\b(my (own )?(thinking|reasoning|reflections?|beliefs?|assumptions?)|i (tend|keep) to|in hindsight|looking back|i was wrong)\b`),
				category:   memory.CategoryMeta,
				confidence: 0.8,
			},
			{
				pattern:    regexp.MustCompile(`(?i)\b(other agents?|another agent|agent [a-z0-9_-]+|trust(ed|s)?|cooperat\w*|team(mate)?s?|together|all(y|ies)|rivals?|compet\w*)\b`),
				category:   memory.CategorySocial,
				confidence: 0.8,
			},
			{
				pattern:    regexp.MustCompile(`(?i)\b(afraid|fear\w*|anxi\w*|frustrat\w*|happy|reliev\w*|relief|scared|angry|excit\w*|calm|stress\w*|hopeful|discourag\w*|feel(s|ing)?|felt)\b`),
				category:   memory.CategoryEmotional,
				confidence: 0.75,
			},
			{
				pattern:    regexp.MustCompile(`(?i)\b(should|strateg\w*|plan(s|ning)?|prioriti[sz]\w*|approach|tactic\w*|next time|better to|best to|avoid|instead of)\b`),
				category:   memory.CategoryStrategy,
				confidence: 0.75,
			},
			{
				pattern:    regexp.MustCompile(`(?i)\b(patterns?|tends? to|usually|often|always|repeated\w*|recurr\w*|every time|whenever|most (corridors|paths|rooms))\b`),
				category:   memory.CategoryPattern,
				confidence: 0.7,
			},
			{
				pattern:    regexp.MustCompile(`(?i)\b(learn\w*|realiz\w*|discover\w*|understand\w*|now know|found out|lessons?)\b`),
				category:   memory.CategoryLearning,
				confidence: 0.7,
			},
		},
	}
}

// Classify implements ClassifierStrategy.
func (k *KeywordClassifier) Classify(_ context.Context, text string) (Classification, bool, error) {
	if len(text) > maxClassifyLength {
		text = text[:maxClassifyLength]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Classification{}, false, nil
	}
	for _, r := range k.rules {
		if r.pattern.MatchString(text) {
			return Classification{Category: r.category, Source: SourceKeyword, Confidence: r.confidence}, true, nil
		}
	}
	return Classification{}, false, nil
}

// DefaultCategory always decides on one category.
type DefaultCategory memory.Category

// Classify implements ClassifierStrategy.
func (d DefaultCategory) Classify(context.Context, string) (Classification, bool, error) {
	return Classification{Category: memory.Category(d), Source: SourceDefault, Confidence: 0.5}, true, nil
}
