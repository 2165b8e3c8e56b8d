// Package render prints chat messages and connection state to a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
	"github.com/zhouzirui/chatdesk/internal/transport"
)

const (
	DefaultCustomerLabel = "Bạn"
	DefaultAdminLabel    = "Nhân viên"
	DefaultBotName       = "Bot"
)

// Options configures a Renderer.
type Options struct {
	CustomerLabel string
	AdminLabel    string
	BotName       string
	Color         bool
	// Location is used for the HH:MM stamp. Defaults to time.Local.
	Location *time.Location
}

// Renderer formats messages as "[HH:MM] Label: content".
type Renderer struct {
	w    io.Writer
	opts Options

	mu sync.Mutex

	customer func(a ...interface{}) string
	bot      func(a ...interface{}) string
	admin    func(a ...interface{}) string
	muted    func(a ...interface{}) string
	good     func(a ...interface{}) string
	warn     func(a ...interface{}) string
	bad      func(a ...interface{}) string
}

// New creates a renderer writing to w.
func New(w io.Writer, opts Options) *Renderer {
	if opts.CustomerLabel == "" {
		opts.CustomerLabel = DefaultCustomerLabel
	}
	if opts.AdminLabel == "" {
		opts.AdminLabel = DefaultAdminLabel
	}
	if opts.BotName == "" {
		opts.BotName = DefaultBotName
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	paint := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}

	return &Renderer{
		w:        w,
		opts:     opts,
		customer: paint(color.FgGreen, color.Bold),
		bot:      paint(color.FgCyan, color.Bold),
		admin:    paint(color.FgMagenta, color.Bold),
		muted:    paint(color.FgHiBlack),
		good:     paint(color.FgGreen),
		warn:     paint(color.FgYellow),
		bad:      paint(color.FgRed),
	}
}

// Label returns the display name for a sender.
func (r *Renderer) Label(sender chat.SenderType) string {
	switch sender {
	case chat.SenderCustomer:
		return r.opts.CustomerLabel
	case chat.SenderAdmin:
		return r.opts.AdminLabel
	default:
		return r.opts.BotName
	}
}

// Stamp formats the message time as HH:MM, or "now" for a message without one.
func (r *Renderer) Stamp(t time.Time) string {
	if t.IsZero() {
		return "now"
	}
	return t.In(r.opts.Location).Format("15:04")
}

// Format renders one message. Attached images follow the text, one per line.
func (r *Renderer) Format(msg chat.Message) string {
	var paint func(a ...interface{}) string
	switch msg.SenderType {
	case chat.SenderCustomer:
		paint = r.customer
	case chat.SenderAdmin:
		paint = r.admin
	default:
		paint = r.bot
	}

	var b strings.Builder
	b.WriteString(r.muted("[" + r.Stamp(msg.CreatedAt) + "]"))
	b.WriteByte(' ')
	b.WriteString(paint(r.Label(msg.SenderType) + ":"))
	if msg.Content != "" {
		b.WriteByte(' ')
		b.WriteString(msg.Content)
	}
	if msg.ID.IsTemp() {
		b.WriteString(r.muted(" (sending)"))
	}
	for _, img := range msg.Image {
		b.WriteString("\n    ")
		b.WriteString(r.muted("image: " + shortenDataURL(img)))
	}
	return b.String()
}

// Message writes one formatted message followed by a newline.
func (r *Renderer) Message(msg chat.Message) {
	r.Println(r.Format(msg))
}

// Messages writes the messages in order.
func (r *Renderer) Messages(msgs []chat.Message) {
	for _, msg := range msgs {
		r.Message(msg)
	}
}

// Status describes the connection state and, for the widget, whether a
// bot reply is pending.
func (r *Renderer) Status(state transport.State, waiting bool) string {
	var line string
	switch state {
	case transport.StateConnected:
		line = r.good("● connected")
	case transport.StateConnecting:
		line = r.warn("◌ connecting…")
	default:
		line = r.bad("○ disconnected, retrying")
	}
	if waiting {
		line += r.muted("  " + r.opts.BotName + " is typing…")
	}
	return line
}

// Conversation renders one dashboard row.
func (r *Renderer) Conversation(conv chat.Conversation, alert, selected bool) string {
	var b strings.Builder
	if selected {
		b.WriteString("> ")
	} else {
		b.WriteString("  ")
	}
	b.WriteString(r.muted("#" + conv.ID()))
	b.WriteByte(' ')

	name := conv.Name
	if name == "" {
		name = "(no name)"
	}
	b.WriteString(r.customer(name))

	if conv.Platform != "" {
		b.WriteString(r.muted(" [" + conv.Platform + "]"))
	}
	if conv.ManualMode() {
		mode := " manual"
		if conv.Time != "" {
			mode += " until " + conv.Time
		}
		b.WriteString(r.warn(mode))
	}
	if len(conv.TagNames) > 0 {
		b.WriteString(r.muted(" {" + strings.Join(conv.TagNames, ", ") + "}"))
	}
	if alert {
		b.WriteString(r.bad(" !"))
	}

	preview := conv.Content
	if preview == "" && len(conv.Image) > 0 {
		preview = "[image]"
	}
	if preview != "" {
		b.WriteString(": ")
		b.WriteString(truncate(preview, 60))
	}
	return b.String()
}

// Println writes a line, serialised with every other write of the renderer.
func (r *Renderer) Println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, line)
}

// Warnf writes a highlighted notice.
func (r *Renderer) Warnf(format string, args ...interface{}) {
	r.Println(r.warn(fmt.Sprintf(format, args...)))
}

// Errorf writes an error notice.
func (r *Renderer) Errorf(format string, args ...interface{}) {
	r.Println(r.bad(fmt.Sprintf(format, args...)))
}

func shortenDataURL(img string) string {
	if !strings.HasPrefix(img, "data:") {
		return img
	}
	if i := strings.Index(img, ","); i >= 0 {
		return img[:i] + ",… (" + fmt.Sprint(len(img)-i-1) + " bytes)"
	}
	return img
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
