package chat

import (
	"context"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

// SeedKnowledge is the starter knowledge base of the dev server.
func SeedKnowledge() []chat.KnowledgeResult {
	return []chat.KnowledgeResult{
		{ID: "1", Title: "Giờ làm việc", Content: "Trung tâm mở cửa từ 8:00 đến 21:00, thứ Hai đến Chủ nhật."},
		{ID: "2", Title: "Học phí", Content: "Học phí khoá cơ bản là 3.500.000 VND cho 24 buổi, thanh toán theo tháng hoặc trọn khoá."},
		{ID: "3", Title: "Lịch khai giảng", Content: "Các lớp mới khai giảng vào ngày 1 và 15 hằng tháng."},
		{ID: "4", Title: "Hoàn phí", Content: "Học viên được hoàn 100% học phí nếu rút trước buổi học thứ ba."},
	}
}

// SeedTags adds the starter tag catalogue.
func SeedTags(ctx context.Context, s *Service) error {
	for _, tag := range []chat.Tag{
		{Name: "Tiềm năng", Color: "#22c55e"},
		{Name: "Đã đăng ký", Color: "#3b82f6"},
		{Name: "Cần gọi lại", Color: "#f97316"},
	} {
		if _, err := s.CreateTag(ctx, tag); err != nil {
			return err
		}
	}
	return nil
}
