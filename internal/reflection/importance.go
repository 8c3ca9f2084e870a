package reflection

import (
	"context"
	"regexp"

	"github.com/fyrsmithlabs/mazemind/internal/llm"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
	"go.uber.org/zap"
)

const baseImportance = 5

var (
	criticalTerms = regexp.MustCompile(`(?i)\b(critical|danger\w*|deadly|trap(s|ped)?|urgent|exit|crucial|vital|essential|never|must)\b`)
	strategyTerms = regexp.MustCompile(`(?i)\b(strateg\w*|plan(s|ning)?|should|approach|prioriti[sz]\w*|tactic\w*|goal)\b`)
	patternTerms  = regexp.MustCompile(`(?i)\b(patterns?|tends? to|usually|often|always|repeated\w*|recurr\w*|whenever)\b`)
)

// HeuristicImportance scores text from keywords: a base of 5, plus 3 for
// critical language, 2 for strategic language and 1 for patterns, capped
// at 10.
func HeuristicImportance(text string) int {
	if len(text) > maxClassifyLength {
		text = text[:maxClassifyLength]
	}
	score := baseImportance
	if criticalTerms.MatchString(text) {
		score += 3
	}
	if strategyTerms.MatchString(text) {
		score += 2
	}
	if patternTerms.MatchString(text) {
		score++
	}
	return memory.ClampImportance(score)
}

// Estimate is an importance score and where it came from.
type Estimate struct {
	Importance int    `json:"importance"`
	Source     Source `json:"source"`
}

// ImportanceStrategy is one step of an ImportanceEstimator chain.
type ImportanceStrategy interface {
	Estimate(ctx context.Context, text string) (Estimate, bool, error)
}

// ImportanceEstimator runs strategies in order and returns the first
// estimate. If none decides, it falls back to HeuristicImportance.
type ImportanceEstimator struct {
	strategies []ImportanceStrategy
	logger     *zap.Logger
}

// NewImportanceEstimator creates a chain over strategies.
func NewImportanceEstimator(logger *zap.Logger, strategies ...ImportanceStrategy) *ImportanceEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportanceEstimator{strategies: strategies, logger: logger}
}

// NewDefaultImportanceEstimator chains the LLM rating and the keyword
// heuristic. A nil gen leaves the LLM step out.
func NewDefaultImportanceEstimator(gen Generator, logger *zap.Logger) *ImportanceEstimator {
	var strategies []ImportanceStrategy
	if gen != nil {
		strategies = append(strategies, &LLMImportance{gen: gen})
	}
	return NewImportanceEstimator(logger, append(strategies, KeywordImportance{})...)
}

// Estimate scores text. It fails only when ctx is done.
func (e *ImportanceEstimator) Estimate(ctx context.Context, text string) (Estimate, error) {
	for _, s := range e.strategies {
		est, ok, err := s.Estimate(ctx, text)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Estimate{}, ctxErr
		}
		if err != nil {
			e.logger.Debug("importance strategy failed, trying next", zap.Error(err))
			continue
		}
		if ok {
			return est, nil
		}
	}
	return Estimate{Importance: HeuristicImportance(text), Source: SourceHeuristic}, nil
}

// LLMImportance asks the language model to rate importance from 1 to 10.
type LLMImportance struct {
	gen Generator
}

// NewLLMImportance creates an LLM rating step.
func NewLLMImportance(gen Generator) *LLMImportance {
	return &LLMImportance{gen: gen}
}

// Estimate implements ImportanceStrategy.
func (l *LLMImportance) Estimate(ctx context.Context, text string) (Estimate, bool, error) {
	reply, err := l.gen.Generate(ctx, buildImportancePrompt(text), llm.Options{Temperature: llm.Float(0.1), MaxTokens: 4})
	if err != nil {
		return Estimate{}, false, err
	}
	v, ok := parseImportance(reply)
	if !ok {
		return Estimate{}, false, nil
	}
	return Estimate{Importance: v, Source: SourceLLM}, true, nil
}

// KeywordImportance always decides, using HeuristicImportance.
type KeywordImportance struct{}

// Estimate implements ImportanceStrategy.
func (KeywordImportance) Estimate(_ context.Context, text string) (Estimate, bool, error) {
	return Estimate{Importance: HeuristicImportance(text), Source: SourceHeuristic}, true, nil
}
