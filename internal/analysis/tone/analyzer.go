package tone

import "strings"

// Label is the mood detected in a customer message.
type Label string

const (
	Neutral Label = "neutral"
	Happy   Label = "happy"
	Upset   Label = "upset"
	Angry   Label = "angry"
	Urgent  Label = "urgent"
)

// Decision is the winning label and its keyword score.
type Decision struct {
	Tone  Label
	Score int
}

// NeedsCare reports whether the reply should open with an apology or a
// promise of quick follow-up.
func (d Decision) NeedsCare() bool {
	switch d.Tone {
	case Angry, Urgent, Upset:
		return d.Score > 0
	}
	return false
}

// Keywords are matched on lower-cased text. Short Vietnamese words that are
// also common syllables ("tức", "gấp") only appear inside longer phrases.
var keywordBuckets = map[Label][]string{
	Happy: {
		"cảm ơn", "cám ơn", "tuyệt vời", "hay quá", "tốt quá", "hài lòng", "rất thích",
		"thanks", "thank you", "great", "awesome",
	},
	Upset: {
		"buồn", "thất vọng", "lo lắng", "không hài lòng", "chán", "tiếc quá",
		"disappointed", "worried", "unhappy", "sad",
	},
	Angry: {
		"bực mình", "tức giận", "bực quá", "quá tệ", "tệ quá", "lừa đảo", "khiếu nại",
		"phàn nàn", "vô lý", "không chấp nhận", "angry", "terrible", "scam", "refund",
	},
	Urgent: {
		"cần gấp", "gấp lắm", "khẩn cấp", "ngay lập tức", "ngay bây giờ", "sớm nhất",
		"trả lời ngay", "urgent", "asap", "right now", "immediately",
	},
}

// order breaks ties towards the label that needs the most care.
var order = []Label{Angry, Urgent, Upset, Happy}

// Analyze scores a customer message. Repeated exclamation marks strengthen
// whatever mood is already present.
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Tone: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	best := Decision{Tone: Neutral}
	for _, label := range order {
		if scores[label] > best.Score {
			best = Decision{Tone: label, Score: scores[label]}
		}
	}

	if best.Score > 0 {
		if n := strings.Count(text, "!"); n > 1 {
			best.Score += n
		}
	}
	return best
}

// Guidance is the instruction added to the bot prompt for a decision, or ""
// when no special tone is needed.
func Guidance(d Decision) string {
	switch {
	case !d.NeedsCare():
		return ""
	case d.Tone == Angry:
		return "Khách hàng đang không hài lòng: xin lỗi chân thành trước, không tranh cãi, đề nghị nhân viên liên hệ lại."
	case d.Tone == Urgent:
		return "Khách hàng đang cần gấp: trả lời thẳng vào câu hỏi ngay câu đầu tiên."
	default:
		return "Khách hàng đang lo lắng: trả lời nhẹ nhàng và trấn an."
	}
}
