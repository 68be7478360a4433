package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerPrompts publishes each prompt block on its own, plus
// "database_assistant": every block followed by the live database context.
func (s *Server) registerPrompts() {
	for _, name := range s.prompts.Names() {
		body := s.prompts.Get(name)
		s.mcp.AddPrompt(mcp.NewPrompt(name,
			mcp.WithPromptDescription(fmt.Sprintf("The %q instruction block", name)),
		), func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return userPrompt(name, body), nil
		})
	}

	s.mcp.AddPrompt(mcp.NewPrompt("database_assistant",
		mcp.WithPromptDescription("All instruction blocks plus the current database schema and sample rows"),
	), s.handleAssistantPrompt)
}

func (s *Server) handleAssistantPrompt(ctx context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	dbContext, err := s.catalog.Context(ctx, s.samples)
	if err != nil {
		return nil, err
	}
	return userPrompt("Database assistant instructions", s.prompts.WithContext(dbContext)), nil
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent{Type: "text", Text: text},
			},
		},
	}
}
