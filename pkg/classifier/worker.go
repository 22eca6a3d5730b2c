// Package classifier attaches LLM annotations to ingested events and
// escalates topic, urgency, and priority onto their tickets.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/llmannotation"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/ent/ticket"
	"github.com/motionlabs/cswatch/pkg/config"
	"github.com/motionlabs/cswatch/pkg/llm"
	"github.com/motionlabs/cswatch/pkg/services"
)

// Worker is the single-leader classification loop. It polls the store for
// unclassified events and processes them in small batches; replays are safe
// because the annotation insert is unique per event.
type Worker struct {
	client        *ent.Client
	cfg           config.ClassifierConfig
	models        config.LLMConfig
	llm           llm.Client
	tickets       *services.TicketService
	notifications *services.NotificationService
	logger        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a classifier worker.
func NewWorker(
	client *ent.Client,
	cfg config.ClassifierConfig,
	models config.LLMConfig,
	llmClient llm.Client,
	tickets *services.TicketService,
	notifications *services.NotificationService,
) *Worker {
	return &Worker{
		client:        client,
		cfg:           cfg,
		models:        models,
		llm:           llmClient,
		tickets:       tickets,
		notifications: notifications,
		logger:        slog.Default().With("component", "classifier"),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the in-flight batch.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("Classifier started",
		"model_fast", w.models.ModelFast,
		"model_escalation", w.models.ModelEscalation)

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Classifier shutting down")
			return
		case <-ctx.Done():
			w.logger.Info("Context cancelled, classifier shutting down")
			return
		default:
			processed, err := w.processBatch(ctx)
			if err != nil {
				w.logger.Error("Batch processing failed", "error", err)
				w.sleep(time.Second)
				continue
			}
			if processed == 0 {
				w.sleep(w.pollInterval())
			}
		}
	}
}

// sleep waits for the duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with up to 20% jitter so replicas
// never align their polls.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval()
	jitter := base / 5
	if jitter <= 0 {
		return base
	}
	return base - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
}

// processBatch classifies up to one batch of pending events, bounded by the
// per-run token budget. Returns the number of events it advanced (classified,
// failed, or retried).
func (w *Worker) processBatch(ctx context.Context) (int, error) {
	events, err := w.client.MessageEvent.Query().
		Where(messageevent.ClassificationStatusEQ(messageevent.ClassificationStatusPending)).
		Order(ent.Asc(messageevent.FieldServerReceivedAt)).
		Limit(w.cfg.BatchSize).
		All(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying pending events: %w", err)
	}

	tokensUsed := 0
	processed := 0
	for _, ev := range events {
		select {
		case <-w.stopCh:
			return processed, nil
		case <-ctx.Done():
			return processed, nil
		default:
		}
		if tokensUsed >= w.cfg.MaxTokensPerRun {
			w.logger.Warn("Token budget exhausted, yielding until next tick",
				"tokens_used", tokensUsed, "budget", w.cfg.MaxTokensPerRun)
			break
		}

		tokens, err := w.classifyEvent(ctx, ev)
		tokensUsed += tokens
		processed++
		if err != nil {
			w.recordFailure(ctx, ev, err)
		}
	}
	return processed, nil
}

// outcome bundles the final classification and its call telemetry.
type outcome struct {
	result    *Classification
	model     string
	escalated bool
	usage     llm.Usage
	latency   time.Duration
}

// classifyEvent runs the LLM routing for one event and persists the result.
// The returned token count covers every call made, including failed ones.
func (w *Worker) classifyEvent(ctx context.Context, ev *ent.MessageEvent) (int, error) {
	history, err := w.loadHistory(ctx, ev)
	if err != nil {
		return 0, err
	}
	messages := BuildMessages(ev.ChatRoom, ev.TextRaw, ev.SenderType == messageevent.SenderTypeStaff, history)

	start := time.Now()
	fastRes, err := w.llm.Complete(ctx, w.models.ModelFast, messages)
	if err != nil {
		return 0, fmt.Errorf("fast model: %w", err)
	}
	tokens := fastRes.Usage.TotalTokens()

	parsed, err := ParseClassification(fastRes.Content)
	if err != nil {
		return tokens, fmt.Errorf("fast model response: %w", err)
	}

	out := outcome{
		result:  parsed,
		model:   w.models.ModelFast,
		usage:   fastRes.Usage,
		latency: time.Since(start),
	}

	escalate, err := w.shouldEscalate(ctx, ev, parsed)
	if err != nil {
		return tokens, err
	}
	if escalate {
		escStart := time.Now()
		escRes, escErr := w.llm.Complete(ctx, w.models.ModelEscalation, messages)
		if escErr == nil {
			tokens += escRes.Usage.TotalTokens()
			if escParsed, perr := ParseClassification(escRes.Content); perr == nil {
				out = outcome{
					result:    escParsed,
					model:     w.models.ModelEscalation,
					escalated: true,
					usage:     escRes.Usage,
					latency:   time.Since(escStart),
				}
			} else {
				w.logger.Warn("Escalation response unparseable, keeping fast result",
					"event_id", ev.ID, "error", perr)
			}
		} else {
			// Escalation is strictly additive: the fast result stands.
			w.logger.Warn("Escalation call failed, keeping fast result",
				"event_id", ev.ID, "error", escErr)
		}
	}

	if err := w.persistSuccess(ctx, ev, out); err != nil {
		return tokens, err
	}
	return tokens, nil
}

// loadHistory returns the last context messages of the ticket that precede
// the event, oldest first.
func (w *Worker) loadHistory(ctx context.Context, ev *ent.MessageEvent) ([]Turn, error) {
	if w.cfg.ContextMessages == 0 {
		return nil, nil
	}
	prior, err := w.client.MessageEvent.Query().
		Where(
			messageevent.TicketIDEQ(ev.TicketID),
			messageevent.IDNEQ(ev.ID),
			messageevent.Or(
				messageevent.ReceivedAtLT(ev.ReceivedAt),
				messageevent.And(
					messageevent.ReceivedAtEQ(ev.ReceivedAt),
					messageevent.ServerReceivedAtLT(ev.ServerReceivedAt),
				),
			),
		).
		Order(ent.Desc(messageevent.FieldReceivedAt), ent.Desc(messageevent.FieldServerReceivedAt)).
		Limit(w.cfg.ContextMessages).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ticket history: %w", err)
	}

	turns := make([]Turn, 0, len(prior))
	for i := len(prior) - 1; i >= 0; i-- {
		turns = append(turns, Turn{
			Staff: prior[i].SenderType == messageevent.SenderTypeStaff,
			Text:  prior[i].TextRaw,
		})
	}
	return turns, nil
}

// shouldEscalate applies the routing rule: low self-reported confidence,
// oversized text, or a critical verdict on a fresh unannotated ticket.
func (w *Worker) shouldEscalate(ctx context.Context, ev *ent.MessageEvent, fast *Classification) (bool, error) {
	if fast.Confidence == nil || *fast.Confidence < w.cfg.EscalationMinConfidence {
		return true, nil
	}
	if len(ev.TextRaw) > w.cfg.EscalationTextBytes {
		return true, nil
	}
	if fast.Urgency == "critical" {
		tkt, err := w.client.Ticket.Get(ctx, ev.TicketID)
		if err != nil {
			return false, fmt.Errorf("loading ticket for routing: %w", err)
		}
		if tkt.Status == ticket.StatusNew {
			annotated, err := w.client.LLMAnnotation.Query().
				Where(
					llmannotation.HasEventWith(messageevent.TicketIDEQ(ev.TicketID)),
					llmannotation.ErrorMessageIsNil(),
				).
				Exist(ctx)
			if err != nil {
				return false, fmt.Errorf("checking prior annotations: %w", err)
			}
			return !annotated, nil
		}
	}
	return false, nil
}

// persistSuccess writes the annotation, enriches the ticket, and marks the
// event classified — one transaction.
func (w *Worker) persistSuccess(ctx context.Context, ev *ent.MessageEvent, out outcome) error {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	builder := tx.LLMAnnotation.Create().
		SetID(uuid.New().String()).
		SetEventID(ev.ID).
		SetModel(out.model).
		SetPromptVersion(PromptVersion).
		SetUrgency(llmannotation.Urgency(out.result.Urgency)).
		SetEscalated(out.escalated).
		SetPromptTokens(out.usage.PromptTokens).
		SetCompletionTokens(out.usage.CompletionTokens).
		SetLatencyMs(int(out.latency / time.Millisecond))

	if out.result.Topic != "" {
		builder.SetTopic(out.result.Topic)
	}
	if out.result.Sentiment != "" {
		builder.SetSentiment(out.result.Sentiment)
	}
	if out.result.Intent != "" {
		builder.SetIntent(out.result.Intent)
	}
	if out.result.Summary != "" {
		builder.SetSummary(out.result.Summary)
	}
	if out.result.NextAction != "" {
		builder.SetNextAction(out.result.NextAction)
	}
	if out.result.Confidence != nil {
		builder.SetConfidence(*out.result.Confidence)
	}

	if _, err := builder.Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			// Replay: another pass already annotated this event. Settle the
			// tracking fields and move on.
			_ = tx.Rollback()
			return w.client.MessageEvent.UpdateOneID(ev.ID).
				SetClassificationStatus(messageevent.ClassificationStatusClassified).
				Exec(ctx)
		}
		return fmt.Errorf("inserting annotation: %w", err)
	}

	if err := w.tickets.ApplyClassification(ctx, tx, ev.TicketID, services.AnnotationFacts{
		Topic:      out.result.Topic,
		Summary:    out.result.Summary,
		NextAction: out.result.NextAction,
		Urgency:    out.result.Urgency,
	}); err != nil {
		return fmt.Errorf("applying classification to ticket: %w", err)
	}

	if err := tx.MessageEvent.UpdateOneID(ev.ID).
		SetClassificationStatus(messageevent.ClassificationStatusClassified).
		AddClassifyAttempts(1).
		Exec(ctx); err != nil {
		return fmt.Errorf("marking event classified: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing classification: %w", err)
	}
	return nil
}

// recordFailure advances the retry accounting for one event; once attempts
// are exhausted it writes the permanent-failure annotation. Non-transient
// call errors (auth, bad request) skip straight to the permanent record.
func (w *Worker) recordFailure(ctx context.Context, ev *ent.MessageEvent, cause error) {
	attempts := ev.ClassifyAttempts + 1
	w.logger.Warn("Classification attempt failed",
		"event_id", ev.ID, "attempt", attempts, "error", cause)

	if !llm.IsTransient(cause) {
		attempts = w.cfg.MaxAttempts
	}

	if attempts < w.cfg.MaxAttempts {
		if err := w.client.MessageEvent.UpdateOneID(ev.ID).
			SetClassifyAttempts(attempts).
			Exec(ctx); err != nil {
			w.logger.Error("Failed to record attempt", "event_id", ev.ID, "error", err)
		}
		return
	}

	tx, err := w.client.Tx(ctx)
	if err != nil {
		w.logger.Error("Failed to start failure transaction", "event_id", ev.ID, "error", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.LLMAnnotation.Create().
		SetID(uuid.New().String()).
		SetEventID(ev.ID).
		SetModel(w.models.ModelFast).
		SetPromptVersion(PromptVersion).
		SetErrorMessage(cause.Error()).
		Save(ctx); err != nil {
		if ent.IsConstraintError(err) {
			// A prior pass already wrote this event's annotation row; only
			// the tracking fields still need settling.
			_ = tx.Rollback()
			if uerr := w.client.MessageEvent.UpdateOneID(ev.ID).
				SetClassificationStatus(messageevent.ClassificationStatusFailed).
				SetClassifyAttempts(attempts).
				Exec(ctx); uerr != nil {
				w.logger.Error("Failed to mark event failed", "event_id", ev.ID, "error", uerr)
			}
			return
		}
		w.logger.Error("Failed to record permanent failure", "event_id", ev.ID, "error", err)
		return
	}

	if err := tx.MessageEvent.UpdateOneID(ev.ID).
		SetClassificationStatus(messageevent.ClassificationStatusFailed).
		SetClassifyAttempts(attempts).
		Exec(ctx); err != nil {
		w.logger.Error("Failed to mark event failed", "event_id", ev.ID, "error", err)
		return
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("Failed to commit failure record", "event_id", ev.ID, "error", err)
		return
	}

	if nerr := w.notifications.CreateSystem(ctx,
		"Classification degraded",
		fmt.Sprintf("Event %s could not be classified after %d attempts: %v", ev.ID, attempts, cause),
	); nerr != nil {
		w.logger.Error("Failed to record system notification", "error", nerr)
	}
}
