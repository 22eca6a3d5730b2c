package classifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/ent/notification"
	"github.com/motionlabs/cswatch/ent/ticket"
	"github.com/motionlabs/cswatch/pkg/config"
	"github.com/motionlabs/cswatch/pkg/llm"
	"github.com/motionlabs/cswatch/pkg/models"
	"github.com/motionlabs/cswatch/pkg/services"
	testdb "github.com/motionlabs/cswatch/test/database"
)

// stubLLM returns canned content (or errors) per model and records calls.
type stubLLM struct {
	mu       sync.Mutex
	response map[string]string
	err      map[string]error
	calls    []string
}

func (s *stubLLM) Complete(_ context.Context, model string, _ []llm.Message) (*llm.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, model)
	if err := s.err[model]; err != nil {
		return nil, err
	}
	return &llm.Result{
		Content: s.response[model],
		Usage:   llm.Usage{PromptTokens: 200, CompletionTokens: 50},
	}, nil
}

func (s *stubLLM) callCount(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.calls {
		if m == model {
			n++
		}
	}
	return n
}

type classifierFixture struct {
	client  *ent.Client
	events  *services.EventService
	tickets *services.TicketService
	worker  *Worker
	stub    *stubLLM
}

func newFixture(t *testing.T, stub *stubLLM, mutate func(*config.ClassifierConfig)) *classifierFixture {
	t.Helper()
	db := testdb.NewTestClient(t)

	cfg := config.ClassifierConfig{
		BatchSize:               16,
		PollSeconds:             1,
		MaxAttempts:             3,
		ContextMessages:         10,
		MaxTokensPerRun:         100000,
		EscalationMinConfidence: 0.6,
		EscalationTextBytes:     2000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	llmCfg := config.LLMConfig{ModelFast: "fast-model", ModelEscalation: "escalation-model"}

	tickets := services.NewTicketService(db.Client, 20*time.Minute)
	events := services.NewEventService(db.Client, tickets, 10*time.Second)
	notifications := services.NewNotificationService(db.Client)

	return &classifierFixture{
		client:  db.Client,
		events:  events,
		tickets: tickets,
		worker:  NewWorker(db.Client, cfg, llmCfg, stub, tickets, notifications),
		stub:    stub,
	}
}

func (f *classifierFixture) ingestCustomer(t *testing.T, text string) string {
	t.Helper()
	res, err := f.events.Submit(context.Background(), models.SubmitEventInput{
		DeviceID:   "device-1",
		ChatRoom:   "강남A내과 단톡",
		SenderName: "원장님",
		TextRaw:    text,
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return res.EventID
}

const confidentLowJSON = `{"topic":"예약 변경","urgency":"low","summary":"예약 시간 변경 요청","next_action":"예약 변경 처리","confidence":0.9}`

func TestWorker_ClassifiesPendingEvent(t *testing.T) {
	stub := &stubLLM{response: map[string]string{"fast-model": confidentLowJSON}}
	f := newFixture(t, stub, nil)
	ctx := context.Background()

	eventID := f.ingestCustomer(t, "예약 시간 좀 바꿀 수 있을까요?")

	processed, err := f.worker.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	ev, err := f.client.MessageEvent.Get(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, messageevent.ClassificationStatusClassified, ev.ClassificationStatus)

	ann, err := f.client.MessageEvent.QueryAnnotation(ev).Only(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fast-model", ann.Model)
	assert.False(t, ann.Escalated)
	assert.Nil(t, ann.ErrorMessage)
	require.NotNil(t, ann.Urgency)
	assert.Equal(t, "low", string(*ann.Urgency))
	require.NotNil(t, ann.PromptTokens)
	assert.Equal(t, 200, *ann.PromptTokens)

	tkt, err := f.client.Ticket.Get(ctx, ev.TicketID)
	require.NoError(t, err)
	require.NotNil(t, tkt.TopicPrimary)
	assert.Equal(t, "예약 변경", *tkt.TopicPrimary)
	require.NotNil(t, tkt.SummaryLatest)
	assert.Equal(t, ticket.PriorityNormal, tkt.Priority)
}

func TestWorker_ReclassifyIsNoOp(t *testing.T) {
	stub := &stubLLM{response: map[string]string{"fast-model": confidentLowJSON}}
	f := newFixture(t, stub, nil)
	ctx := context.Background()

	f.ingestCustomer(t, "예약 확인 부탁드려요")

	_, err := f.worker.processBatch(ctx)
	require.NoError(t, err)
	processed, err := f.worker.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed, "already classified, nothing pending")

	count, err := f.client.LLMAnnotation.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, stub.callCount("fast-model"))
}

func TestWorker_EscalatesOnLowConfidence(t *testing.T) {
	stub := &stubLLM{response: map[string]string{
		"fast-model":       `{"topic":"불명확","urgency":"medium","confidence":0.3}`,
		"escalation-model": `{"topic":"수납 오류","urgency":"high","summary":"수납 금액 불일치","confidence":0.95}`,
	}}
	f := newFixture(t, stub, nil)
	ctx := context.Background()

	eventID := f.ingestCustomer(t, "저번에 말씀드린 그 건 어떻게 됐나요")

	_, err := f.worker.processBatch(ctx)
	require.NoError(t, err)

	ev, err := f.client.MessageEvent.Get(ctx, eventID)
	require.NoError(t, err)
	ann, err := f.client.MessageEvent.QueryAnnotation(ev).Only(ctx)
	require.NoError(t, err)
	assert.True(t, ann.Escalated)
	assert.Equal(t, "escalation-model", ann.Model)
	require.NotNil(t, ann.Topic)
	assert.Equal(t, "수납 오류", *ann.Topic)

	tkt, err := f.client.Ticket.Get(ctx, ev.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.PriorityHigh, tkt.Priority)
}

func TestWorker_EscalatesOnCriticalForFreshTicket(t *testing.T) {
	stub := &stubLLM{response: map[string]string{
		"fast-model":       `{"topic":"시스템 장애","urgency":"critical","confidence":0.9}`,
		"escalation-model": `{"topic":"시스템 장애","urgency":"critical","summary":"전체 발송 중단","confidence":0.97}`,
	}}
	f := newFixture(t, stub, nil)
	ctx := context.Background()

	eventID := f.ingestCustomer(t, "지금 문자가 하나도 안 나가요!!")

	_, err := f.worker.processBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.callCount("escalation-model"))

	ev, err := f.client.MessageEvent.Get(ctx, eventID)
	require.NoError(t, err)
	tkt, err := f.client.Ticket.Get(ctx, ev.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.PriorityUrgent, tkt.Priority)
}

func TestWorker_EscalationFailureKeepsFastResult(t *testing.T) {
	stub := &stubLLM{
		response: map[string]string{
			"fast-model": `{"topic":"예약","urgency":"medium","confidence":0.2}`,
		},
		err: map[string]error{
			"escalation-model": errors.New("upstream 503"),
		},
	}
	f := newFixture(t, stub, nil)
	ctx := context.Background()

	eventID := f.ingestCustomer(t, "예약 관련해서요")

	_, err := f.worker.processBatch(ctx)
	require.NoError(t, err)

	ev, err := f.client.MessageEvent.Get(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, messageevent.ClassificationStatusClassified, ev.ClassificationStatus)

	ann, err := f.client.MessageEvent.QueryAnnotation(ev).Only(ctx)
	require.NoError(t, err)
	assert.False(t, ann.Escalated)
	assert.Equal(t, "fast-model", ann.Model)
}

func TestWorker_PermanentFailureAfterRetries(t *testing.T) {
	stub := &stubLLM{err: map[string]error{"fast-model": errors.New("timeout")}}
	f := newFixture(t, stub, func(c *config.ClassifierConfig) { c.MaxAttempts = 2 })
	ctx := context.Background()

	eventID := f.ingestCustomer(t, "안녕하세요")

	// First attempt: retried.
	_, err := f.worker.processBatch(ctx)
	require.NoError(t, err)
	ev, err := f.client.MessageEvent.Get(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, messageevent.ClassificationStatusPending, ev.ClassificationStatus)
	assert.Equal(t, 1, ev.ClassifyAttempts)

	// Second attempt: permanently failed.
	_, err = f.worker.processBatch(ctx)
	require.NoError(t, err)
	ev, err = f.client.MessageEvent.Get(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, messageevent.ClassificationStatusFailed, ev.ClassificationStatus)

	ann, err := f.client.MessageEvent.QueryAnnotation(ev).Only(ctx)
	require.NoError(t, err)
	require.NotNil(t, ann.ErrorMessage)
	assert.Nil(t, ann.Urgency)

	// The ticket is not blocked by the failure.
	tkt, err := f.client.Ticket.Get(ctx, ev.TicketID)
	require.NoError(t, err)
	assert.Nil(t, tkt.TopicPrimary)

	degraded, err := f.client.Notification.Query().
		Where(notification.TypeEQ(notification.TypeSystem)).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, degraded)

	// Failed events never come back into the batch.
	processed, err := f.worker.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestWorker_TokenBudgetYields(t *testing.T) {
	stub := &stubLLM{response: map[string]string{"fast-model": confidentLowJSON}}
	f := newFixture(t, stub, func(c *config.ClassifierConfig) { c.MaxTokensPerRun = 200 })
	ctx := context.Background()

	f.ingestCustomer(t, "첫 번째 문의")
	f.ingestCustomer(t, "두 번째 문의")

	// One call costs 250 tokens; the budget admits a single event per run.
	processed, err := f.worker.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = f.worker.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}
