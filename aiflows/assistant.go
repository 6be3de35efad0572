package aiflows

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

var errEmptyInput = errors.New("empty input")

// history turns kept in the agent context
const maxAgentHistory = 30

const maxTitleRunes = 80

// ConversationalAgent answers userMessage given the earlier turns.
func (f *Flows) ConversationalAgent(ctx context.Context, history []Message, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", flowError(FlowConversationalAgent, errEmptyInput)
	}
	if len(history) > maxAgentHistory {
		history = history[len(history)-maxAgentHistory:]
	}
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Text: userMessage})

	text, err := f.run(ctx, FlowConversationalAgent, Request{Messages: msgs, Temperature: 0.5})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateConvoTitle names a conversation from its first message.
func (f *Flows) GenerateConvoTitle(ctx context.Context, firstMessage string) (string, error) {
	if strings.TrimSpace(firstMessage) == "" {
		return "", flowError(FlowGenerateConvoTitle, errEmptyInput)
	}
	text, err := f.run(ctx, FlowGenerateConvoTitle, userRequest(firstMessage))
	if err != nil {
		return "", err
	}
	return tidyTitle(text), nil
}

// FallbackTitle is used when the title flow fails.
func FallbackTitle(firstMessage string) string {
	return tidyTitle(firstMessage)
}

func tidyTitle(s string) string {
	s = cleanText(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(strings.TrimSpace(s), "\"'“”#*")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxTitleRunes])) + "…"
	}
	return s
}
