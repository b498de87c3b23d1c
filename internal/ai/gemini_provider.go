package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/amishk599/jobflow/internal/model"
)

// GeminiProvider calls the Gemini API with a JSON response schema.
type GeminiProvider struct {
	client *genai.Client
	cfg    ProviderConfig
}

func NewGeminiProvider(ctx context.Context, cfg ProviderConfig, httpClient *http.Client) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, cfg: cfg}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

var geminiJudgmentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"relevant": {Type: genai.TypeBoolean},
		"summary":  {Type: genai.TypeString},
	},
	Required: []string{"relevant", "summary"},
}

func (p *GeminiProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}}
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(p.cfg.Temperature)),
		MaxOutputTokens:   int32(maxTokens(p.cfg)),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    geminiJudgmentSchema,
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", geminiError(err))
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return text, nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &model.HTTPError{StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &model.HTTPError{StatusCode: apiErrPtr.Code, Err: err}
	}
	return err
}
