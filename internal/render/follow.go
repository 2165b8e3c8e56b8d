package render

import (
	"strings"
	"sync"

	"github.com/zhouzirui/chatdesk/internal/model/chat"
)

// Follower prints the messages of a view that have not been printed yet.
// Plug Observe into view.List.Subscribe.
type Follower struct {
	r *Renderer

	mu sync.Mutex

	// seen maps printed message keys to their sender|content key.
	seen map[string]string
}

// NewFollower creates a follower printing through r.
func NewFollower(r *Renderer) *Follower {
	return &Follower{r: r, seen: make(map[string]string)}
}

// Observe receives a view snapshot. An empty snapshot means the view was
// reset and everything will be printed again.
func (f *Follower) Observe(msgs []chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(msgs) == 0 {
		f.seen = make(map[string]string)
		return
	}

	present := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		present[messageKey(msg)] = struct{}{}
	}

	// A temp message that vanished in the same snapshot a confirmed copy
	// appeared in was already printed.
	confirmed := make(map[string]int)
	for key, content := range f.seen {
		if _, ok := present[key]; ok {
			continue
		}
		delete(f.seen, key)
		if strings.HasPrefix(key, tempKeyPrefix) {
			confirmed[content]++
		}
	}

	for _, msg := range msgs {
		key := messageKey(msg)
		if _, ok := f.seen[key]; ok {
			continue
		}
		c := contentKey(msg)
		f.seen[key] = c

		if confirmed[c] > 0 {
			confirmed[c]--
			continue
		}
		f.r.Message(msg)
	}
}

// Forget clears the printed set so the next snapshot is printed in full.
func (f *Follower) Forget() {
	f.mu.Lock()
	f.seen = make(map[string]string)
	f.mu.Unlock()
}

const tempKeyPrefix = "temp|"

func messageKey(msg chat.Message) string {
	switch {
	case msg.ID.IsTemp():
		return tempKeyPrefix + string(msg.ID)
	case msg.ID != "":
		return "id|" + string(msg.ID)
	default:
		return "anon|" + contentKey(msg)
	}
}

func contentKey(msg chat.Message) string {
	return string(msg.SenderType) + "|" + msg.Content
}
