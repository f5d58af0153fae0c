package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/observability"
)

// StageFunc is one step of the pipeline. It reads the current state and
// returns the fields it changes.
type StageFunc func(ctx context.Context, s State) (Update, error)

type Stage struct {
	Name string
	Run  StageFunc
}

// Result is what a run hands back to its caller.
type Result struct {
	Reply string `json:"reply"`
	Turns []Turn `json:"turns"`
}

// Orchestrator runs retrieve → respond → persist_episodic → persist_semantic
// in order for every request.
type Orchestrator struct {
	stages  []Stage
	log     zerolog.Logger
	metrics *observability.Metrics
}

type Option func(*options)

type options struct {
	log         zerolog.Logger
	metrics     *observability.Metrics
	searchLimit int
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSearchLimit sets how many records of each memory kind are retrieved.
func WithSearchLimit(n int) Option {
	return func(o *options) { o.searchLimit = n }
}

func New(store MemoryStore, model llm.Model, opts ...Option) *Orchestrator {
	o := options{log: zerolog.Nop(), searchLimit: 3}
	for _, opt := range opts {
		opt(&o)
	}
	retriever := &Retriever{Store: store, Limit: o.searchLimit}
	generator := &Generator{Model: model, Log: o.log, Metrics: o.metrics}
	episodic := &EpisodicPersister{Store: store, Log: o.log, Metrics: o.metrics}
	facts := &FactExtractor{Model: model, Store: store, Log: o.log, Metrics: o.metrics}

	return NewWithStages(o.log, o.metrics,
		Stage{Name: observability.StageRetrieve, Run: retriever.Retrieve},
		Stage{Name: observability.StageRespond, Run: generator.Respond},
		Stage{Name: observability.StagePersistEpisodic, Run: episodic.Persist},
		Stage{Name: observability.StagePersistSemantic, Run: facts.Extract},
	)
}

// NewWithStages builds an orchestrator over an explicit stage list.
func NewWithStages(log zerolog.Logger, metrics *observability.Metrics, stages ...Stage) *Orchestrator {
	return &Orchestrator{stages: stages, log: log, metrics: metrics}
}

// Stages lists the stage names in execution order.
func (o *Orchestrator) Stages() []string {
	names := make([]string, len(o.stages))
	for i, s := range o.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes every stage once over the conversation and returns the reply
// with the extended history. The input slice is not modified.
//
// The history must end with a user turn, so the default retriever always has
// an utterance to search with. The empty-context branch of Retriever is only
// reached through NewWithStages pipelines that run it on other states.
func (o *Orchestrator) Run(ctx context.Context, turns []Turn, userID, conversationID string) (Result, error) {
	if err := validateInput(turns, userID); err != nil {
		o.metrics.ObserveRun("rejected")
		return Result{}, err
	}

	log := o.log.With().Str("user_id", userID).Str("conversation_id", conversationID).Logger()
	state := State{
		Turns:          append([]Turn(nil), turns...),
		UserID:         userID,
		ConversationID: conversationID,
	}

	started := time.Now()
	for _, stage := range o.stages {
		stageStart := time.Now()
		update, err := stage.Run(ctx, state)
		if err == nil {
			state, err = state.Apply(update)
		}
		elapsed := time.Since(stageStart)
		o.metrics.ObserveStage(stage.Name, elapsed)
		if err != nil {
			o.metrics.ObserveRun("failed")
			log.Error().Err(err).Str("stage", stage.Name).Msg("pipeline run aborted")
			return Result{}, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		log.Debug().Str("stage", stage.Name).Dur("elapsed", elapsed).Msg("stage complete")
	}
	o.metrics.ObserveStage(observability.StageRunTotal, time.Since(started))
	o.metrics.ObserveRun("ok")

	return Result{Reply: state.Reply, Turns: state.Turns}, nil
}

func validateInput(turns []Turn, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(turns) == 0 {
		return fmt.Errorf("%w: conversation has no turns", ErrInvalidInput)
	}
	for i, t := range turns {
		if t.Role != llm.RoleUser && t.Role != llm.RoleAssistant {
			return fmt.Errorf("%w: turn %d has role %q", ErrInvalidInput, i, t.Role)
		}
	}
	if turns[len(turns)-1].Role != llm.RoleUser {
		return fmt.Errorf("%w: last turn must be from the user", ErrInvalidInput)
	}
	return nil
}
