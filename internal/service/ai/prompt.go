package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

// PromptBuilder assembles the support assistant's system prompt.
type PromptBuilder struct {
	name  string
	rules []string
}

// NewPromptBuilder creates a builder for an assistant called name.
func NewPromptBuilder(name string) *PromptBuilder {
	if name == "" {
		name = "Bot"
	}
	return &PromptBuilder{
		name: name,
		rules: []string{
			"Trả lời bằng tiếng Việt, ngắn gọn và lịch sự",
			"Chỉ dựa vào thông tin tham khảo, không bịa đặt số liệu",
			"Nếu không chắc chắn, mời khách để lại số điện thoại để nhân viên gọi lại",
			"Không hỏi lại thông tin khách hàng đã cung cấp",
		},
	}
}

// SystemPrompt embeds the knowledge hits for the current question. guidance
// is an optional instruction about the customer's mood.
func (p *PromptBuilder) SystemPrompt(knowledge []chat.KnowledgeResult, guidance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bạn là %s, trợ lý tư vấn trực tuyến của trung tâm.\n\nQuy tắc:\n- %s",
		p.name, strings.Join(p.rules, "\n- "))
	if guidance != "" {
		fmt.Fprintf(&b, "\n- %s", guidance)
	}

	if len(knowledge) == 0 {
		b.WriteString("\n\nKhông có thông tin tham khảo cho câu hỏi này.")
		return b.String()
	}

	b.WriteString("\n\nThông tin tham khảo:")
	for _, k := range knowledge {
		if k.Title != "" {
			fmt.Fprintf(&b, "\n- %s: %s", k.Title, k.Content)
		} else {
			fmt.Fprintf(&b, "\n- %s", k.Content)
		}
	}
	return b.String()
}
