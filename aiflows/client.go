package aiflows

import (
	"context"
	"strings"
)

// SummarizeClientHistory writes a short prose summary of a client's notes and events.
func (f *Flows) SummarizeClientHistory(ctx context.Context, history string) (string, error) {
	if strings.TrimSpace(history) == "" {
		return "", flowError(FlowSummarizeClientHistory, errEmptyInput)
	}
	req := userRequest(history)
	req.Temperature = 0.3
	text, err := f.run(ctx, FlowSummarizeClientHistory, req)
	if err != nil {
		return "", err
	}
	return cleanText(text), nil
}

// GenerateQualification drafts the notarial qualification paragraph for a party.
func (f *Flows) GenerateQualification(ctx context.Context, clientData string) (string, error) {
	if strings.TrimSpace(clientData) == "" {
		return "", flowError(FlowGenerateQualification, errEmptyInput)
	}
	req := userRequest(clientData)
	req.Temperature = 0.2
	text, err := f.run(ctx, FlowGenerateQualification, req)
	if err != nil {
		return "", err
	}
	return cleanText(text), nil
}
