package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/golang/glog"

	"github.com/zhouzirui/chatdesk/internal/analysis/tone"
	"github.com/zhouzirui/chatdesk/internal/config"
	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

const historyLimit = 10

// Responder produces the bot's answer to a customer message.
type Responder interface {
	Reply(ctx context.Context, history []chat.Message, query string, knowledge []chat.KnowledgeResult) (string, error)
}

// Streamer is a Responder that can also emit its answer in pieces.
type Streamer interface {
	Responder
	StreamReply(ctx context.Context, history []chat.Message, query string, knowledge []chat.KnowledgeResult) (*schema.StreamReader[*schema.Message], error)
}

// Service answers through an LLM chat model.
type Service struct {
	chatModel model.ChatModel
	prompts   *PromptBuilder
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the Ark-backed responder.
func NewService(ctx context.Context, cfg config.AIConfig, assistantName string) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, assistantName)
}

// NewServiceWithModel wires any chat model into the prompt chain.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, assistantName string) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		prompts:   NewPromptBuilder(assistantName),
		chain:     runnable,
	}, nil
}

// Reply runs the chain for one customer message.
func (s *Service) Reply(ctx context.Context, history []chat.Message, query string, knowledge []chat.KnowledgeResult) (string, error) {
	input := s.buildChainInput(history, query, knowledge)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	glog.V(1).Infof("[ai] generated reply, length=%d", len(content))
	return content, nil
}

// StreamReply runs the chain in streaming mode. The caller closes the reader.
func (s *Service) StreamReply(ctx context.Context, history []chat.Message, query string, knowledge []chat.KnowledgeResult) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, s.buildChainInput(history, query, knowledge))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(history []chat.Message, query string, knowledge []chat.KnowledgeResult) map[string]any {
	return map[string]any{
		"system":  s.prompts.SystemPrompt(knowledge, tone.Guidance(tone.Analyze(query))),
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.Content == "" {
			continue
		}
		switch msg.SenderType {
		case chat.SenderCustomer:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderBot, chat.SenderAdmin:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

// Canned answers from the knowledge base alone, for running without model
// credentials.
type Canned struct{}

// Reply quotes the best knowledge hit, or a holding answer.
func (Canned) Reply(_ context.Context, _ []chat.Message, query string, knowledge []chat.KnowledgeResult) (string, error) {
	if len(knowledge) > 0 {
		return knowledge[0].Content, nil
	}
	if strings.TrimSpace(query) == "" {
		return fallbackReply, nil
	}
	return fmt.Sprintf("Cảm ơn bạn đã hỏi về \"%s\". %s", truncate(query, 60), fallbackReply), nil
}

const fallbackReply = "Nhân viên tư vấn sẽ liên hệ với bạn sớm nhất."

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
