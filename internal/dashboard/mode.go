package dashboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

// Mode options offered when switching a conversation's handling.
const (
	ModeBot        = "bot"
	ModeOneHour    = "1-hour"
	ModeFourHours  = "4-hour"
	ModeUntil8AM   = "8am-tomorrow"
	ModeManualOnly = "manual-only"

	defaultManualMinutes = 30
)

// ModeTimeLayout is the zone-less local timestamp sent as the manual-mode expiry.
const ModeTimeLayout = "2006-01-02T15:04:05"

// ModeOptions lists the accepted option names.
var ModeOptions = []string{ModeBot, ModeOneHour, ModeFourHours, ModeUntil8AM, ModeManualOnly}

// ManualMinutes returns how long an option keeps the bot silent. Unknown
// options fall back to 30 minutes; manual-only returns 0.
func ManualMinutes(option string, now time.Time) int {
	switch option {
	case ModeManualOnly:
		return 0
	case ModeOneHour:
		return 60
	case ModeFourHours:
		return 240
	case ModeUntil8AM:
		eight := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, now.Location())
		tomorrow := eight.AddDate(0, 0, 1)
		minutes := int(math.Ceil(tomorrow.Sub(now).Minutes()))
		if minutes < 0 {
			return 0
		}
		return minutes
	default:
		return defaultManualMinutes
	}
}

// StatusFor builds the status update for an option. Manual-only carries no
// expiry, so the conversation stays manual until switched back.
func StatusFor(option string, now time.Time) chat.StatusUpdate {
	if option == ModeBot {
		return chat.StatusUpdate{Status: chat.StatusBot}
	}
	minutes := ManualMinutes(option, now)
	if minutes == 0 {
		return chat.StatusUpdate{Status: chat.StatusManual}
	}
	return chat.StatusUpdate{
		Status: chat.StatusManual,
		Time:   now.Add(time.Duration(minutes) * time.Minute).Format(ModeTimeLayout),
	}
}

// SetMode switches a conversation between bot and manual handling.
func (c *Console) SetMode(ctx context.Context, sessionID, option string, now time.Time) (chat.StatusUpdate, error) {
	if sessionID == "" {
		return chat.StatusUpdate{}, ErrNoSelection
	}

	update := StatusFor(option, now)
	if err := c.backend.UpdateStatus(ctx, sessionID, update); err != nil {
		return chat.StatusUpdate{}, fmt.Errorf("update status: %w", err)
	}

	c.updateConversation(sessionID, func(conv *chat.Conversation) {
		conv.Status = chat.FlexString(update.Status)
		conv.Time = update.Time
	})
	return update, nil
}
