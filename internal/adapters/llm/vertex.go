package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/calliope-ai/calliope/internal/domain"
)

type VertexClient struct {
	client    *genai.Client
	modelName string
}

// NewVertexClient creates a CompletionClient backed by Vertex AI (Gemini).
func NewVertexClient(ctx context.Context, projectID, location, modelName string) (*VertexClient, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("project and location are required for Vertex AI")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexClient{
		client:    client,
		modelName: modelName,
	}, nil
}

// Complete implements domain.CompletionClient using Vertex AI.
func (v *VertexClient) Complete(ctx context.Context, systemPrompt string, turns []domain.Turn) (string, error) {
	var contents []*genai.Content
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == domain.RoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	temp := float32(0.7)
	topP := float32(0.9)
	outputTokens := int32(1024)

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		TopP:            &topP,
		MaxOutputTokens: outputTokens,
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	res, err := v.client.Models.GenerateContent(ctx, v.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("vertex generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("vertex returned empty text")
	}
	return text, nil
}
