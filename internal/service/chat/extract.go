package chat

import (
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`(?:\+84|0)(?:[\s.-]?\d){9,10}`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// ExtractCustomerInfo pulls contact details out of a customer message.
// It returns nil when nothing was found.
func ExtractCustomerInfo(content string) map[string]any {
	info := map[string]any{}

	if phone := phonePattern.FindString(content); phone != "" {
		info["phone"] = strings.NewReplacer(" ", "", ".", "", "-", "").Replace(phone)
	}
	if email := emailPattern.FindString(content); email != "" {
		info["email"] = strings.ToLower(email)
	}

	if len(info) == 0 {
		return nil
	}
	return info
}
