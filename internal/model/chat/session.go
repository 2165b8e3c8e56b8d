package chat

import (
	"encoding/json"
	"time"
)

// Session correlates a visitor to a backend conversation record.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"-"`
}

// UnmarshalJSON accepts numeric or string ids.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = rawID(raw.ID)
	return nil
}
