package aiflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini implements Generator with the Gemini API. Calls are throttled
// client-side so bursts from many users do not hit the quota.
type Gemini struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

func NewGemini(ctx context.Context, apiKey string, model string, perMinute int) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &Gemini{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}, nil
}

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Completion, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var contents []*genai.Content
	for i, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(m.Text)}
		// attachments ride on the last user turn
		if i == len(req.Messages)-1 && role == genai.RoleUser {
			for _, a := range req.Attachments {
				parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
			}
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, err
	}
	out := &Completion{Text: resp.Text(), Model: g.model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	if strings.TrimSpace(out.Text) == "" {
		return out, errors.New("empty model response")
	}
	return out, nil
}
