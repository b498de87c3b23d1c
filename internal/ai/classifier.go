package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/amishk599/jobflow/internal/model"
)

var _ model.Classifier = (*LLMClassifier)(nil)

// maxPromptChars caps the posting text sent to the provider.
const maxPromptChars = 12000

// LLMClassifier implements model.Classifier using an LLM provider.
type LLMClassifier struct {
	provider     LLMProvider
	tmpl         *template.Template
	keywords     []string
	summaryWords int
	logger       *slog.Logger
}

// NewLLMClassifier creates a classifier. keywords describe the profile of
// interest and are rendered into the prompt.
func NewLLMClassifier(provider LLMProvider, tmpl *template.Template, keywords []string, logger *slog.Logger) *LLMClassifier {
	return &LLMClassifier{
		provider:     provider,
		tmpl:         tmpl,
		keywords:     keywords,
		summaryWords: 60,
		logger:       logger,
	}
}

// Classify returns the provider's relevance judgment for text. Provider errors
// and malformed responses come back as *model.ClassificationError.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (model.Judgment, error) {
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	var promptBuf bytes.Buffer
	if err := c.tmpl.Execute(&promptBuf, struct {
		Keywords     []string
		SummaryWords int
		Text         string
	}{
		Keywords:     c.keywords,
		SummaryWords: c.summaryWords,
		Text:         text,
	}); err != nil {
		return model.Judgment{}, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := c.provider.Complete(ctx, systemPrompt, promptBuf.String())
	if err != nil {
		return model.Judgment{}, &model.ClassificationError{Provider: c.provider.Name(), Err: err}
	}

	j, err := parseJudgment(raw)
	if err != nil {
		c.logger.Debug("malformed classifier response", "provider", c.provider.Name(), "raw", raw)
		return model.Judgment{}, &model.ClassificationError{Provider: c.provider.Name(), Err: err}
	}
	return j, nil
}

// rawJudgment is the JSON shape returned by the LLM (matches judgmentSchema).
type rawJudgment struct {
	Relevant *bool  `json:"relevant"`
	Summary  string `json:"summary"`
}

// parseJudgment tolerates code fences and surrounding prose, which providers
// without schema enforcement sometimes add.
func parseJudgment(raw string) (model.Judgment, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}

	var rj rawJudgment
	if err := json.Unmarshal([]byte(s), &rj); err != nil {
		return model.Judgment{}, fmt.Errorf("unmarshal judgment JSON: %w", err)
	}
	if rj.Relevant == nil {
		return model.Judgment{}, fmt.Errorf("judgment missing \"relevant\"")
	}
	return model.Judgment{Relevant: *rj.Relevant, Summary: strings.TrimSpace(rj.Summary)}, nil
}
