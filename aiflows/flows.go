package aiflows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Flows binds every flow to one generator and prompt source.
type Flows struct {
	gen     Generator
	prompts PromptSource
	tracer  trace.Tracer
	usage   UsageRecorder
}

func New(gen Generator, prompts PromptSource) *Flows {
	return &Flows{
		gen:     gen,
		prompts: prompts,
		tracer:  otel.Tracer("cartorio/aiflows"),
	}
}

// Enabled is false when no generator is configured (no API key).
func (f *Flows) Enabled() bool {
	return f != nil && f.gen != nil
}

func flowError(flow string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrFlowFailed, flow, err)
}

// run resolves the flow prompt, calls the generator once and traces the call.
func (f *Flows) run(ctx context.Context, flow string, req Request) (string, error) {
	if !f.Enabled() {
		return "", flowError(flow, fmt.Errorf("generator not configured"))
	}
	ctx, span := f.tracer.Start(ctx, "aiflows."+flow)
	defer span.End()
	span.SetAttributes(attribute.String("ai.flow", flow), attribute.Int("ai.attachments", len(req.Attachments)))

	system, err := f.prompts.Prompt(ctx, flow)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt")
		return "", flowError(flow, err)
	}
	if req.System != "" {
		system = system + "\n\n" + req.System
	}
	req.System = system

	started := time.Now()
	out, err := f.gen.Generate(ctx, req)
	f.recordUsage(ctx, flow, req, out, started, err)
	if err != nil {
		// a cancelled request is not an adapter failure
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		config.LogError(config.GetLogger(), "aiflows", flow, "Generate", nil, err)
		return "", flowError(flow, err)
	}
	span.SetAttributes(attribute.Int("ai.response_bytes", len(out.Text)), attribute.String("ai.model", out.Model))
	return out.Text, nil
}

// runJSON is run plus decoding of a JSON answer into out.
func (f *Flows) runJSON(ctx context.Context, flow string, req Request, out interface{}) error {
	req.JSON = true
	text, err := f.run(ctx, flow, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(utils.StripCodeFence(text)), out); err != nil {
		config.LogError(config.GetLogger(), "aiflows", flow, "Unmarshal", text, err)
		return flowError(flow, fmt.Errorf("invalid JSON answer: %w", err))
	}
	return nil
}

func userRequest(text string) Request {
	return Request{Messages: []Message{{Role: RoleUser, Text: text}}}
}

func cleanText(s string) string {
	return strings.TrimSpace(utils.StripCodeFence(s))
}
