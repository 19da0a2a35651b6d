// internal/oracle/gemini.go

// Package oracle talks to the decision model: it renders the observation into
// a prompt, sends it with the screenshot, and parses the reply into a
// Decision.
package oracle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// GeminiOracle implements schemas.Oracle against the Gemini API.
type GeminiOracle struct {
	client  *genai.Client
	model   string
	cfg     config.OracleConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ schemas.Oracle = (*GeminiOracle)(nil)

// NewGeminiOracle builds the client. A missing API key is an immediate,
// classified failure rather than a deferred one on the first request.
func NewGeminiOracle(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (*GeminiOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured (set WEBPILOT_ORACLE_API_KEY): %w", schemas.ErrOracle)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w: %w", schemas.ErrOracle, err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &GeminiOracle{
		client:  client,
		model:   cfg.Model,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), 1),
		logger:  logger.Named("oracle"),
	}, nil
}

// Decide asks the model for the next step. Transport and API failures come
// back wrapped as ErrOracle; unintelligible but well-formed replies do not,
// they surface as a zero-Kind Decision for the caller to treat as terminal.
func (o *GeminiOracle) Decide(ctx context.Context, shot schemas.Screenshot, elements []schemas.ElementDescriptor, query string, history []string) (schemas.Decision, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return schemas.Decision{}, fmt.Errorf("rate limit wait: %w: %w", schemas.ErrOracle, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.APITimeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromText(BuildPrompt(query, elements, history)),
	}
	if len(shot.PNG) > 0 {
		parts = append(parts, genai.NewPartFromBytes(shot.PNG, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genCfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(o.cfg.Temperature),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}

	resp, err := o.client.Models.GenerateContent(callCtx, o.model, contents, genCfg)
	if err != nil {
		return schemas.Decision{}, fmt.Errorf("generate content: %w: %w", schemas.ErrOracle, err)
	}

	raw := resp.Text()
	if raw == "" {
		return schemas.Decision{}, fmt.Errorf("empty model reply: %w", schemas.ErrOracle)
	}

	d := ParseDecision(raw)
	o.logger.Debug("Oracle decided.",
		zap.String("kind", string(d.Kind)), zap.String("rationale", d.Rationale))
	return d, nil
}
