package agent

import (
	"programmer/pkg/buffer"
	"programmer/pkg/llm"
	"programmer/pkg/snapshot"
)

// State is everything a step needs. Values are never mutated in place: the
// With helpers return copies, and the history and buffers share structure
// with their predecessors.
type State struct {
	History  llm.Conversation `json:"history"`
	Buffers  buffer.State     `json:"buffers"`
	Snapshot snapshot.Key     `json:"snapshot"`
}

// NewState starts a session with the given messages, usually the task.
func NewState(msgs ...llm.Message) State {
	return State{
		History: llm.NewConversation(msgs...),
		Buffers: buffer.NewState(),
	}
}

// WithHistory returns s with its history replaced.
func (s State) WithHistory(h llm.Conversation) State {
	s.History = h
	return s
}

// WithBuffers returns s with its buffer state replaced.
func (s State) WithBuffers(b buffer.State) State {
	s.Buffers = b
	return s
}

// WithSnapshot returns s with its snapshot key replaced.
func (s State) WithSnapshot(k snapshot.Key) State {
	s.Snapshot = k
	return s
}

// Append returns s with msgs added to its history.
func (s State) Append(msgs ...llm.Message) State {
	return s.WithHistory(s.History.Append(msgs...))
}

// Done reports whether the model's latest reply asked for no tools.
func (s State) Done() bool {
	last, ok := s.History.Last()
	return ok && last.Role == llm.RoleAssistant && !last.HasToolCalls()
}

// StepCount returns the number of model replies in the history.
func (s State) StepCount() int {
	n := 0
	for _, m := range s.History.Messages() {
		if m.Role == llm.RoleAssistant {
			n++
		}
	}
	return n
}
