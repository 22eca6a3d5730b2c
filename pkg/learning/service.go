// Package learning periodically distills the conversation corpus into a
// versioned, append-only "understanding" document.
package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/learningexecution"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/ent/understanding"
	"github.com/motionlabs/cswatch/pkg/config"
	"github.com/motionlabs/cswatch/pkg/llm"
	"github.com/motionlabs/cswatch/pkg/services"
)

// Advisory lock keys; fixed values shared by every replica.
const (
	runLockKey     int64 = 0x6373_6c72 // singleton run guard
	versionLockKey int64 = 0x6373_7576 // version allocation
)

// Service runs the self-learning job.
type Service struct {
	client *ent.Client
	db     *sql.DB
	llm    llm.Client
	model  string
	cfg    config.LearningConfig
	logger *slog.Logger
}

// NewService creates the learning service. The escalation model is always
// used here: one large call per run.
func NewService(client *ent.Client, db *sql.DB, llmClient llm.Client, model string, cfg config.LearningConfig) *Service {
	return &Service{
		client: client,
		db:     db,
		llm:    llmClient,
		model:  model,
		cfg:    cfg,
		logger: slog.Default().With("component", "learning"),
	}
}

// Run executes one learning pass. At most one run is active system-wide;
// concurrent triggers get services.ErrAlreadyRunning.
func (s *Service) Run(ctx context.Context, trigger learningexecution.TriggerType) (*ent.LearningExecution, error) {
	// Session-scoped advisory lock on a dedicated connection guards the
	// singleton across replicas, not just this process.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var acquired bool
	if err := conn.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock($1)", runLockKey).Scan(&acquired); err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !acquired {
		return nil, services.ErrAlreadyRunning
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(),
			"SELECT pg_advisory_unlock($1)", runLockKey); err != nil {
			s.logger.Error("Failed to release run lock", "error", err)
		}
	}()

	start := time.Now()
	exec, err := s.client.LearningExecution.Create().
		SetID(uuid.New().String()).
		SetTriggerType(trigger).
		SetStatus(learningexecution.StatusRunning).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening execution: %w", err)
	}
	s.logger.Info("Learning run started", "execution_id", exec.ID, "trigger", trigger)

	result, runErr := s.runLocked(ctx, start)
	if runErr != nil {
		s.logger.Error("Learning run failed", "execution_id", exec.ID, "error", runErr)
		return s.closeExecution(ctx, exec, learningexecution.StatusFailed, start, nil, runErr.Error())
	}
	if result == nil {
		// Nothing new to learn from; record the attempt without a version.
		return s.closeExecution(ctx, exec, learningexecution.StatusPartial, start, nil, "no new events in window")
	}

	s.logger.Info("Learning run complete",
		"execution_id", exec.ID,
		"version", result.Version,
		"logs_analyzed", result.LogsAnalyzedCount)
	return s.closeExecution(ctx, exec, learningexecution.StatusSuccess, start, &result.Version, "")
}

// closeExecution finalizes the execution row.
func (s *Service) closeExecution(
	ctx context.Context,
	exec *ent.LearningExecution,
	status learningexecution.Status,
	start time.Time,
	version *int,
	errMsg string,
) (*ent.LearningExecution, error) {
	update := s.client.LearningExecution.UpdateOneID(exec.ID).
		SetStatus(status).
		SetDurationSeconds(time.Since(start).Seconds())
	if version != nil {
		update.SetUnderstandingVersion(*version)
	}
	if errMsg != "" {
		update.SetErrorMessage(errMsg)
	}
	closed, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("closing execution: %w", err)
	}
	return closed, nil
}

// runLocked performs the corpus selection, the LLM call, and the version
// insert. Returns nil with no error when the window held no events.
func (s *Service) runLocked(ctx context.Context, now time.Time) (*ent.Understanding, error) {
	previous, err := s.Latest(ctx)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}

	from := now.UTC().Add(-s.cfg.InitialLookback())
	previousText := ""
	if previous != nil {
		from = previous.LogsDateTo
		previousText = previous.UnderstandingText
	}
	to := now.UTC()

	events, err := s.client.MessageEvent.Query().
		Where(
			messageevent.ReceivedAtGT(from),
			messageevent.ReceivedAtLTE(to),
		).
		Order(ent.Asc(messageevent.FieldReceivedAt)).
		Limit(s.cfg.MaxEvents).
		WithTicket().
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("selecting corpus window: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	groups := groupByTicket(events)
	messages := buildCorpusPrompt(previousText, groups)

	res, err := s.llm.Complete(ctx, s.model, messages)
	if err != nil {
		return nil, fmt.Errorf("learning completion: %w", err)
	}

	text, insights := parseLearningResponse(res.Content)
	if text == "" {
		return nil, fmt.Errorf("learning completion: empty understanding text")
	}

	return s.insertVersion(ctx, insertVersionInput{
		Text:             text,
		Insights:         insights,
		LogsCount:        len(events),
		From:             from,
		To:               to,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
	})
}

type insertVersionInput struct {
	Text             string
	Insights         []string
	LogsCount        int
	From, To         time.Time
	PromptTokens     int
	CompletionTokens int
}

// insertVersion allocates max(version)+1 under the version lock and inserts
// the new record. Insert-only: there is no update path for understandings.
func (s *Service) insertVersion(ctx context.Context, input insertVersionInput) (*ent.Understanding, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"SELECT pg_advisory_xact_lock($1)", versionLockKey); err != nil {
		return nil, fmt.Errorf("acquiring version lock: %w", err)
	}

	version := 1
	latest, err := tx.Understanding.Query().
		Order(ent.Desc(understanding.FieldVersion)).
		First(ctx)
	if err == nil {
		version = latest.Version + 1
	} else if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("reading latest version: %w", err)
	}

	created, err := tx.Understanding.Create().
		SetID(uuid.New().String()).
		SetVersion(version).
		SetLogsAnalyzedCount(input.LogsCount).
		SetLogsDateFrom(input.From).
		SetLogsDateTo(input.To).
		SetUnderstandingText(input.Text).
		SetKeyInsights(input.Insights).
		SetModelUsed(s.model).
		SetPromptTokens(input.PromptTokens).
		SetCompletionTokens(input.CompletionTokens).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("inserting understanding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing understanding: %w", err)
	}
	return created, nil
}

// groupByTicket buckets window events per ticket, preserving event order.
func groupByTicket(events []*ent.MessageEvent) []ticketGroup {
	index := map[string]int{}
	var groups []ticketGroup
	for _, ev := range events {
		tkt := ev.Edges.Ticket
		if tkt == nil {
			continue
		}
		i, ok := index[tkt.ID]
		if !ok {
			i = len(groups)
			index[tkt.ID] = i
			groups = append(groups, ticketGroup{ticket: tkt})
		}
		groups[i].events = append(groups[i].events, ev)
	}
	return groups
}

// learningResponse is the structured model output.
type learningResponse struct {
	Understanding string   `json:"understanding"`
	KeyInsights   []string `json:"key_insights"`
}

// parseLearningResponse reads the JSON response leniently; a non-JSON reply
// still yields its raw text as the understanding.
func parseLearningResponse(content string) (string, []string) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		var parsed learningResponse
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil &&
			strings.TrimSpace(parsed.Understanding) != "" {
			if parsed.KeyInsights == nil {
				parsed.KeyInsights = []string{}
			}
			return parsed.Understanding, parsed.KeyInsights
		}
	}
	return trimmed, []string{}
}

// Latest returns the newest understanding, or services.ErrNotFound.
func (s *Service) Latest(ctx context.Context) (*ent.Understanding, error) {
	latest, err := s.client.Understanding.Query().
		Order(ent.Desc(understanding.FieldVersion)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("loading latest understanding: %w", err)
	}
	return latest, nil
}

// GetVersion returns one understanding by version number.
func (s *Service) GetVersion(ctx context.Context, version int) (*ent.Understanding, error) {
	u, err := s.client.Understanding.Query().
		Where(understanding.VersionEQ(version)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("loading understanding v%d: %w", version, err)
	}
	return u, nil
}

// History returns learning executions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*ent.LearningExecution, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	execs, err := s.client.LearningExecution.Query().
		Order(ent.Desc(learningexecution.FieldExecutedAt)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return execs, nil
}
