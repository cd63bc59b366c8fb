package llm

import (
	"encoding/json"
	"slices"
	"sync"
)

// history is the backing store shared by conversations grown from one
// another. Messages below a conversation's length are never rewritten.
type history struct {
	mu   sync.Mutex
	msgs []Message
}

// Conversation is an append-only message history. Appending returns a new
// Conversation and never changes what the receiver exposes. A conversation
// at the tip of its history appends in place; appending to an older one
// copies its prefix into a new history.
type Conversation struct {
	h *history
	n int
}

// NewConversation starts a history with the given messages.
func NewConversation(msgs ...Message) Conversation {
	return Conversation{h: &history{msgs: slices.Clone(msgs)}, n: len(msgs)}
}

// Append returns a new Conversation with msgs added at the end.
func (c Conversation) Append(msgs ...Message) Conversation {
	if len(msgs) == 0 {
		return c
	}
	if c.h == nil {
		return NewConversation(msgs...)
	}
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	if len(c.h.msgs) == c.n {
		c.h.msgs = append(c.h.msgs, msgs...)
		return Conversation{h: c.h, n: c.n + len(msgs)}
	}
	out := make([]Message, 0, c.n+len(msgs))
	out = append(out, c.h.msgs[:c.n]...)
	out = append(out, msgs...)
	return Conversation{h: &history{msgs: out}, n: len(out)}
}

// view returns the messages of c without copying. Callers must not modify it.
func (c Conversation) view() []Message {
	if c.h == nil {
		return nil
	}
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	return c.h.msgs[:c.n:c.n]
}

// Messages returns a copy of the history.
func (c Conversation) Messages() []Message {
	return slices.Clone(c.view())
}

// Len returns the number of messages.
func (c Conversation) Len() int {
	return c.n
}

// Last returns the final message, if any.
func (c Conversation) Last() (Message, bool) {
	msgs := c.view()
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// LastAssistant returns the most recent assistant message, if any.
func (c Conversation) LastAssistant() (Message, bool) {
	msgs := c.view()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// MarshalJSON encodes the history as a JSON array; an empty history is [].
func (c Conversation) MarshalJSON() ([]byte, error) {
	msgs := c.view()
	if msgs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(msgs)
}

// UnmarshalJSON decodes a JSON array of messages.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	*c = Conversation{h: &history{msgs: msgs}, n: len(msgs)}
	return nil
}
