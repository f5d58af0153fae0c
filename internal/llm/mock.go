package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockModel provides deterministic local replies when no provider is configured.
type MockModel struct{}

func NewMockModel() *MockModel { return &MockModel{} }

func (m *MockModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	system, rest := splitSystem(messages)
	var last string
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i].Role == RoleUser {
			last = strings.TrimSpace(rest[i].Content)
			break
		}
	}

	if utterance, ok := factRequest(system, rest); ok {
		return mockFacts(utterance), nil
	}
	return buildMockReply(last, system), nil
}

const (
	factRequestPrefix = "Analyze the user's message and extract"
	factRequestMarker = "User said:"
)

// factRequest recognises a fact-extraction call: a lone user message, with no
// system prompt, that opens with the extraction instruction. Chat turns always
// carry a system prompt, so a user quoting the marker still gets a reply.
func factRequest(system string, rest []Message) (string, bool) {
	if system != "" || len(rest) != 1 || rest[0].Role != RoleUser {
		return "", false
	}
	text := strings.TrimSpace(rest[0].Content)
	if !strings.HasPrefix(text, factRequestPrefix) {
		return "", false
	}
	idx := strings.LastIndex(text, factRequestMarker)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[idx+len(factRequestMarker):]), true
}

func buildMockReply(input, system string) string {
	if input == "" {
		input = "I am listening."
	}
	remembered := ""
	for _, line := range strings.Split(system, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			remembered = strings.TrimPrefix(line, "- ")
			break
		}
	}
	if remembered == "" {
		return fmt.Sprintf("I heard you: %s", input)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", input, remembered)
}

// mockFacts treats first-person sentences as facts about the speaker.
func mockFacts(text string) string {
	var facts []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }) {
		s = strings.TrimSpace(s)
		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, "i ") || strings.HasPrefix(lower, "i'm ") || strings.HasPrefix(lower, "my ") {
			facts = append(facts, "- User said: "+s)
		}
	}
	if len(facts) == 0 {
		return "NONE"
	}
	return strings.Join(facts, "\n")
}
