package pipeline

import (
	"errors"
	"slices"

	"github.com/ent0n29/solace/internal/llm"
)

var (
	// ErrInvalidInput rejects a run before any stage executes.
	ErrInvalidInput = errors.New("invalid pipeline input")
	// ErrMalformedState means a stage found the conversation in a shape an
	// earlier stage should have made impossible.
	ErrMalformedState = errors.New("malformed pipeline state")
)

// Turn is one message of a conversation. Only user and assistant roles appear.
type Turn struct {
	Role     llm.Role `json:"role"`
	Content  string   `json:"content"`
	Position int      `json:"position"`
}

// State is the value threaded through one run. Stages never mutate it; they
// return an Update which the orchestrator merges into the next State.
type State struct {
	Turns          []Turn
	UserID         string
	ConversationID string
	MemoryContext  string
	Reply          string

	contextSet bool
}

// Update is the partial result of one stage. Nil fields are left unchanged.
type Update struct {
	AppendTurns   []Turn
	MemoryContext *string
	Reply         *string
}

// Apply returns s with u merged in. The memory context may be set once per run.
func (s State) Apply(u Update) (State, error) {
	next := s
	if len(u.AppendTurns) > 0 {
		next.Turns = append(slices.Clip(s.Turns), u.AppendTurns...)
	}
	if u.MemoryContext != nil {
		if s.contextSet {
			return s, errors.Join(ErrMalformedState, errors.New("memory context already set"))
		}
		next.MemoryContext = *u.MemoryContext
		next.contextSet = true
	}
	if u.Reply != nil {
		next.Reply = *u.Reply
	}
	return next, nil
}

// LatestUserText returns the content of the most recent user turn.
func (s State) LatestUserText() (string, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == llm.RoleUser {
			return s.Turns[i].Content, true
		}
	}
	return "", false
}

// lastExchange returns the final user/assistant pair, which the persistence
// stages require to be the last two turns.
func (s State) lastExchange() (user, assistant Turn, err error) {
	n := len(s.Turns)
	if n < 2 {
		return Turn{}, Turn{}, errors.Join(ErrMalformedState, errors.New("fewer than two turns"))
	}
	user, assistant = s.Turns[n-2], s.Turns[n-1]
	if user.Role != llm.RoleUser || assistant.Role != llm.RoleAssistant {
		return Turn{}, Turn{}, errors.Join(ErrMalformedState, errors.New("last two turns are not a user/assistant exchange"))
	}
	return user, assistant, nil
}

func ptr[T any](v T) *T { return &v }
