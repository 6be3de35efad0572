package aiflows

import (
	"context"
	"time"

	"github.com/cartorio-digital/cartorio_backend/utils"
)

type UsageStatus string

const (
	UsageSuccess   UsageStatus = "sucesso"
	UsageError     UsageStatus = "erro"
	UsageCancelled UsageStatus = "cancelado"
)

// Usage describes one generator call, successful or not.
type Usage struct {
	Flow      string
	Operation string
	Model     string
	Status    UsageStatus
	UserId    int
	// Prompt is the text of the last user turn, unsanitized.
	Prompt        string
	Response      string
	RequestBytes  int
	ResponseBytes int
	InputTokens   int
	OutputTokens  int
	Latency       time.Duration
	Error         string
}

// UsageRecorder persists usage; it must not block the flow on failure.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u Usage)
}

type operationKey struct{}

// WithOperation tags the generator calls made with ctx, e.g. "livro:12".
func WithOperation(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, operationKey{}, ref)
}

func operationFrom(ctx context.Context) string {
	ref, _ := ctx.Value(operationKey{}).(string)
	return ref
}

// WithUsageRecorder makes every later call report to r.
func (f *Flows) WithUsageRecorder(r UsageRecorder) *Flows {
	f.usage = r
	return f
}

func requestBytes(req Request) int {
	n := len(req.System)
	for _, m := range req.Messages {
		n += len(m.Text)
	}
	for _, a := range req.Attachments {
		n += len(a.Data)
	}
	return n
}

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Text
		}
	}
	return ""
}

func (f *Flows) recordUsage(ctx context.Context, flow string, req Request, out *Completion, started time.Time, err error) {
	if f.usage == nil {
		return
	}
	u := Usage{
		Flow:         flow,
		Operation:    operationFrom(ctx),
		Status:       UsageSuccess,
		Prompt:       lastUserText(req),
		RequestBytes: requestBytes(req),
		Latency:      time.Since(started),
	}
	u.UserId, _ = utils.GetUserIdFromContext(ctx)
	if out != nil {
		u.Model = out.Model
		u.Response = out.Text
		u.ResponseBytes = len(out.Text)
		u.InputTokens = out.InputTokens
		u.OutputTokens = out.OutputTokens
	}
	if err != nil {
		u.Status = UsageError
		if ctx.Err() != nil {
			u.Status = UsageCancelled
		}
		u.Error = err.Error()
	}
	// the caller may be gone; the record still has to land
	f.usage.RecordUsage(context.WithoutCancel(ctx), u)
}
