// Package aiflows holds the prompt-driven AI flows of the office dashboard.
// Each flow takes a typed request, calls a Generator once and decodes the
// answer; there is no retry.
package aiflows

import (
	"context"
	"errors"
)

// ErrFlowFailed wraps every generator or decoding failure.
var ErrFlowFailed = errors.New("ai flow failed")

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Message struct {
	Role Role
	Text string
}

type Attachment struct {
	MIMEType string
	Data     []byte
}

type Request struct {
	System      string
	Messages    []Message
	Attachments []Attachment
	// JSON asks the model for an application/json answer.
	JSON        bool
	Temperature float32
}

// Completion is a model answer plus the usage the provider reported.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Generator is one completion call against a language model.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// PromptSource resolves the system prompt of a flow by key.
type PromptSource interface {
	Prompt(ctx context.Context, key string) (string, error)
}

// prompt keys, one per flow
const (
	FlowExtractActDetails      = "extractActDetails"
	FlowCheckMinuteData        = "checkMinuteData"
	FlowSummarizeClientHistory = "summarizeClientHistory"
	FlowGenerateQualification  = "generateQualification"
	FlowConversationalAgent    = "conversationalAgent"
	FlowGenerateConvoTitle     = "generateConvoTitle"
	FlowSemanticSearch         = "semanticSearch"
	FlowAutomatedValidation    = "automatedValidation"
	FlowProcessLivroPdf        = "processLivroPdf"
)
