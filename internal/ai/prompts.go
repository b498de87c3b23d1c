package ai

import (
	_ "embed"
	"text/template"
)

//go:embed prompts/classify.md
var classifyPromptRaw string

// ClassifyTemplate is the parsed prompt template for relevance classification.
// Parsed once at package init; reused on every Classify call.
var ClassifyTemplate = template.Must(template.New("classify").Parse(classifyPromptRaw))

const systemPrompt = "You are a concise job posting screener. Be brief and factual."
