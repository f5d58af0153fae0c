package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
)

// MemoryStore is the subset of *memory.Store the stages use.
type MemoryStore interface {
	Write(ctx context.Context, kind memory.Kind, userID, content string, metadata map[string]string) (string, error)
	Search(ctx context.Context, kind memory.Kind, userID, query string, limit int) []string
}

// Retriever builds the memory context for the latest user utterance.
type Retriever struct {
	Store MemoryStore
	Limit int
}

func (r *Retriever) Retrieve(ctx context.Context, s State) (Update, error) {
	query, ok := s.LatestUserText()
	if !ok {
		return Update{MemoryContext: ptr("")}, nil
	}
	limit := r.Limit
	if limit <= 0 {
		limit = 3
	}
	semantic := r.Store.Search(ctx, memory.Semantic, s.UserID, query, limit)
	episodic := r.Store.Search(ctx, memory.Episodic, s.UserID, query, limit)
	return Update{MemoryContext: ptr(FormatContext(semantic, episodic))}, nil
}

// Generator produces the assistant reply. It never fails: any model error
// becomes FallbackReply.
type Generator struct {
	Model   llm.Model
	Log     zerolog.Logger
	Metrics *observability.Metrics
}

func (g *Generator) Respond(ctx context.Context, s State) (Update, error) {
	messages := make([]llm.Message, 0, len(s.Turns)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(s.MemoryContext)})
	for _, t := range s.Turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}

	reply, err := g.Model.Invoke(ctx, messages)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = llm.ErrEmptyReply
	}
	if err != nil {
		g.Log.Error().Err(err).Str("user_id", s.UserID).Msg("reply generation failed, using fallback")
		g.Metrics.ObserveFallbackReply()
		g.Metrics.ObserveDegraded(observability.StageRespond)
		reply = FallbackReply
	}

	return Update{
		AppendTurns: []Turn{{Role: llm.RoleAssistant, Content: reply, Position: nextPosition(s.Turns)}},
		Reply:       ptr(reply),
	}, nil
}

// EpisodicPersister stores the completed exchange as one episodic record.
type EpisodicPersister struct {
	Store   MemoryStore
	Log     zerolog.Logger
	Metrics *observability.Metrics
}

func (p *EpisodicPersister) Persist(ctx context.Context, s State) (Update, error) {
	user, assistant, err := s.lastExchange()
	if err != nil {
		return Update{}, err
	}
	_, err = p.Store.Write(ctx, memory.Episodic, s.UserID, EpisodeContent(user.Content, assistant.Content), map[string]string{
		"type":            "interaction",
		"conversation_id": s.ConversationID,
	})
	if err != nil {
		p.Log.Error().Err(err).Str("user_id", s.UserID).Msg("episodic memory update skipped")
		p.Metrics.ObserveDegraded(observability.StagePersistEpisodic)
	}
	return Update{}, nil
}

// FactExtractor asks the model for durable facts in the latest user utterance
// and stores each as a semantic record.
type FactExtractor struct {
	Model   llm.Model
	Store   MemoryStore
	Log     zerolog.Logger
	Metrics *observability.Metrics
}

func (f *FactExtractor) Extract(ctx context.Context, s State) (Update, error) {
	user, _, err := s.lastExchange()
	if err != nil {
		return Update{}, err
	}

	response, err := f.Model.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: extractionPrompt + user.Content}})
	if err != nil {
		f.Log.Error().Err(err).Str("user_id", s.UserID).Msg("fact extraction failed")
		f.Metrics.ObserveDegraded(observability.StagePersistSemantic)
		return Update{}, nil
	}

	facts := ParseFacts(response)
	for i, fact := range facts {
		_, err := f.Store.Write(ctx, memory.Semantic, s.UserID, fact, map[string]string{
			"type":            "fact",
			"conversation_id": s.ConversationID,
		})
		if err != nil {
			// Remaining facts are dropped with the failed one.
			f.Log.Error().Err(err).Str("user_id", s.UserID).Int("written", i).Int("extracted", len(facts)).Msg("semantic memory update skipped")
			f.Metrics.ObserveDegraded(observability.StagePersistSemantic)
			break
		}
	}
	f.Log.Debug().Str("user_id", s.UserID).Int("facts", len(facts)).Msg("facts extracted")
	return Update{}, nil
}

func nextPosition(turns []Turn) int {
	if len(turns) == 0 {
		return 0
	}
	return turns[len(turns)-1].Position + 1
}
