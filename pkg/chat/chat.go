// Package chat orchestrates one conversational turn: retrieve relevant
// memories, generate a reply, then decide whether the exchange is worth
// keeping.
//
// Retrieval failure is absorbed here and nowhere else: the reply is
// generated against an empty context and the response is flagged as
// degraded. Generation failure is always a hard error. Storage happens
// after the reply is complete, in a background goroutine, and can never
// affect the returned reply.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/memkeep/memkeep/pkg/llm"
	"github.com/memkeep/memkeep/pkg/log"
	"github.com/memkeep/memkeep/pkg/memory"
	"github.com/memkeep/memkeep/pkg/memstore"
	"github.com/memkeep/memkeep/pkg/policy"
	"github.com/memkeep/memkeep/pkg/tenant"
)

// DefaultSystemPrompt frames the assistant for reply generation.
const DefaultSystemPrompt = "You are a helpful assistant with long-term memory of past conversations. Use the provided memories when they are relevant; never mention the memory mechanism itself."

// Options tunes one Handle call.
type Options struct {
	// TopK caps how many memories feed the context (store default
	// when <= 0).
	TopK int
	// MinScore is the retrieval similarity floor (store default when
	// zero).
	MinScore float64
	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string
}

// Reply is the outcome of one conversational turn.
type Reply struct {
	// Text is the generated assistant reply.
	Text string
	// MemoriesUsed is how many retrieved memories fed the context.
	MemoriesUsed int
	// RetrievalDegraded is set when memory retrieval failed and the
	// reply was generated without context.
	RetrievalDegraded bool
	// Decision is the store-worthiness verdict for this exchange.
	Decision policy.Decision
}

// Orchestrator wires the memory service, the reply engine, and the
// storage policy into the per-turn conversation flow.
type Orchestrator struct {
	memories *memory.Service
	engine   llm.Engine
	policy   *policy.Policy

	// wg tracks in-flight background stores so Flush can wait for
	// them.
	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(memories *memory.Service, engine llm.Engine, storePolicy *policy.Policy) *Orchestrator {
	if storePolicy == nil {
		storePolicy = policy.New(nil)
	}
	return &Orchestrator{
		memories: memories,
		engine:   engine,
		policy:   storePolicy,
	}
}

// Handle runs one turn for the owner carried in ctx. The returned
// error is non-nil only when reply generation itself failed.
func (o *Orchestrator) Handle(ctx context.Context, userQuery string, opts Options) (Reply, error) {
	owner, ok := tenant.FromContext(ctx)
	if !ok || owner.OwnerID == "" {
		return Reply{}, tenant.ErrMissingOwner
	}

	logger := log.WithOwner(log.FromContext(ctx), owner)

	// Retrieval. A failure here degrades to an empty context; the
	// turn continues.
	reply := Reply{}
	promptContext := ""
	composed, err := o.memories.ComposeContext(ctx, userQuery, memstore.QueryOptions{
		TopK:     opts.TopK,
		MinScore: opts.MinScore,
	})
	if err != nil {
		logger.Warn("Memory retrieval failed, continuing without context", "error", err)
		reply.RetrievalDegraded = true
	} else {
		promptContext = composed.PromptText
		reply.MemoriesUsed = len(composed.Results)
	}

	// Generation. Failure here is the caller's problem.
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	prompt := userQuery
	if promptContext != "" {
		prompt = promptContext
	}
	text, err := o.engine.Complete(ctx, prompt, llm.WithSystemPrompt(systemPrompt))
	if err != nil {
		return Reply{}, err
	}
	reply.Text = text

	// Storage. The reply above is already final; the decision is
	// attached to it and the writes happen in the background.
	reply.Decision = o.policy.Decide(ctx, userQuery, text)
	if reply.Decision.ShouldStore {
		o.storeAsync(owner, userQuery, text, reply.Decision, logger)
	}

	return reply, nil
}

// storeAsync persists the exchange without blocking the caller. The
// background context keeps the owner but drops the request deadline,
// so an impatient caller does not cancel the write.
func (o *Orchestrator) storeAsync(owner tenant.Context, userQuery, replyText string, decision policy.Decision, logger *slog.Logger) {
	storeCtx := tenant.ContextWith(context.Background(), owner)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		_, err := o.memories.RecordExchange(storeCtx, userQuery, replyText, owner.ConversationID, memstore.Metadata{
			Category:   decision.Category,
			Importance: decision.Importance,
		})
		if err != nil {
			logger.Warn("Best-effort memory storage failed", "error", err)
			return
		}
		logger.Debug("Stored exchange",
			"category", decision.Category, "importance", decision.Importance)
	}()
}

// Flush waits for all background stores to finish. Callers use it on
// shutdown and in tests.
func (o *Orchestrator) Flush() {
	o.wg.Wait()
}
