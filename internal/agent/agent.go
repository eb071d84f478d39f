package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/coinscout/coinscout/internal/models"
	"github.com/coinscout/coinscout/internal/tools"
)

const (
	defaultModel = "gpt-4.1-mini"

	// maxToolRounds bounds the tool-calling loop so a confused model cannot
	// spin forever
	maxToolRounds = 6

	systemPrompt = "You are coinscout, a crypto market search assistant. " +
		"Answer questions about swaps, prices, market statistics and news using the available tools. " +
		"When a tool reports success:false, tell the user what went wrong and follow the tool's suggestion. " +
		"Always quote USD values exactly as returned and never invent market data."
)

// ContentGenerator is the slice of the LLM surface the agent needs; it is
// satisfied by the retry wrapper and by test fakes.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Agent answers market questions by looping the LLM through tool calls
type Agent struct {
	llm      ContentGenerator
	tools    map[string]tools.Tool
	toolDefs []llms.Tool
	logger   zerolog.Logger
}

// New creates an agent on the OpenAI API with retry-wrapped calls
func New(apiKey, model string, toolset []tools.Tool, logger zerolog.Logger) (*Agent, error) {
	if model == "" {
		model = defaultModel
	}
	llm, err := openai.New(
		openai.WithModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	wrapped := tools.NewLLMRetryWrapper(llm, tools.DefaultLLMRetryConfig(), logger)
	return NewWithGenerator(wrapped, toolset, logger), nil
}

// NewWithGenerator creates an agent on any ContentGenerator (used by tests)
func NewWithGenerator(llm ContentGenerator, toolset []tools.Tool, logger zerolog.Logger) *Agent {
	registry := make(map[string]tools.Tool, len(toolset))
	var defs []llms.Tool
	for _, tool := range toolset {
		registry[tool.Name()] = tool
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}

	return &Agent{
		llm:      llm,
		tools:    registry,
		toolDefs: defs,
		logger:   logger.With().Str("component", "agent").Logger(),
	}
}

// Tools returns the names of the registered tools
func (a *Agent) Tools() []string {
	var names []string
	for name := range a.tools {
		names = append(names, name)
	}
	return names
}

// Ask runs one conversational query through the tool-calling loop and
// returns the model's final answer. Tool failures are fed back to the model
// as data, not raised.
func (a *Agent) Ask(ctx context.Context, question string) (*models.ChatResponse, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, question),
	}

	var callLog []models.ToolCall

	for round := 0; round < maxToolRounds; round++ {
		resp, err := a.llm.GenerateContent(ctx, messages, llms.WithTools(a.toolDefs))
		if err != nil {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("LLM returned no choices")
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			return &models.ChatResponse{
				Answer:    choice.Content,
				ToolCalls: callLog,
				Timestamp: time.Now().UTC(),
			}, nil
		}

		// Echo the assistant's tool calls back into the transcript, then
		// append one tool response per call.
		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, tc := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, tc)
		}
		messages = append(messages, assistant)

		for _, tc := range choice.ToolCalls {
			content, succeeded := a.executeToolCall(ctx, tc)
			callLog = append(callLog, models.ToolCall{
				Tool:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
				Succeeded: succeeded,
			})
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    content,
				}},
			})
		}
	}

	return nil, fmt.Errorf("tool-calling loop exceeded %d rounds", maxToolRounds)
}

// executeToolCall runs one tool call and serializes its outcome for the
// model. Every failure mode becomes a success:false payload.
func (a *Agent) executeToolCall(ctx context.Context, tc llms.ToolCall) (string, bool) {
	name := tc.FunctionCall.Name
	logger := a.logger.With().Str("tool", name).Logger()

	tool, exists := a.tools[name]
	if !exists {
		logger.Warn().Msg("model requested unknown tool")
		return errorPayload(fmt.Sprintf("unknown tool %q", name)), false
	}

	input := make(map[string]interface{})
	if tc.FunctionCall.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &input); err != nil {
			logger.Warn().Err(err).Msg("malformed tool arguments")
			return errorPayload(fmt.Sprintf("malformed arguments: %v", err)), false
		}
	}

	result, err := tool.Run(ctx, input)
	if err != nil {
		logger.Warn().Err(err).Msg("tool run failed")
		return errorPayload(err.Error()), false
	}

	data, err := json.Marshal(result)
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize tool result")
		return errorPayload("tool result could not be serialized"), false
	}

	logger.Debug().Msg("tool run completed")
	if success, ok := result["success"].(bool); ok && !success {
		return string(data), false
	}
	return string(data), true
}

func errorPayload(message string) string {
	return models.ToJSON(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
