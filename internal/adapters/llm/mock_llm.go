package llm

import (
	"context"
	"fmt"

	"github.com/calliope-ai/calliope/internal/domain"
)

type MockLLM struct{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Complete(_ context.Context, _ string, turns []domain.Turn) (string, error) {
	if len(turns) == 0 {
		return "Hey, I'm here whenever you want to talk.", nil
	}
	last := turns[len(turns)-1]
	return fmt.Sprintf("I hear you. You said %q — tell me a bit more about that.", last.Content), nil
}
