package learning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionlabs/cswatch/ent/learningexecution"
	"github.com/motionlabs/cswatch/pkg/config"
	"github.com/motionlabs/cswatch/pkg/llm"
	"github.com/motionlabs/cswatch/pkg/models"
	"github.com/motionlabs/cswatch/pkg/services"
	testdb "github.com/motionlabs/cswatch/test/database"
)

// stubLLM returns one canned response for every call.
type stubLLM struct {
	mu      sync.Mutex
	content string
	err     error
	prompts []string
}

func (s *stubLLM) Complete(_ context.Context, _ string, messages []llm.Message) (*llm.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			s.prompts = append(s.prompts, m.Content)
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Result{
		Content: s.content,
		Usage:   llm.Usage{PromptTokens: 1800, CompletionTokens: 400},
	}, nil
}

func newLearningFixture(t *testing.T, stub llm.Client) (*Service, *services.EventService) {
	t.Helper()
	db := testdb.NewTestClient(t)
	tickets := services.NewTicketService(db.Client, 20*time.Minute)
	events := services.NewEventService(db.Client, tickets, 10*time.Second)
	svc := NewService(db.Client, db.DB(), stub, "escalation-model", config.LearningConfig{
		ScheduleCron:        "0 2 * * 1,4",
		MaxEvents:           2000,
		InitialLookbackDays: 14,
	})
	return svc, events
}

func ingestConversation(t *testing.T, events *services.EventService) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, msg := range []struct {
		sender string
		text   string
	}{
		{"원장님", "문자 안 나갔어요"},
		{"[모션랩스_이우진]", "확인하겠습니다"},
		{"원장님", "빨리 부탁드려요"},
	} {
		_, err := events.Submit(ctx, models.SubmitEventInput{
			DeviceID:   "device-1",
			ChatRoom:   "강남A내과 단톡",
			SenderName: msg.sender,
			TextRaw:    msg.text,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestRun_FirstVersionBump(t *testing.T) {
	stub := &stubLLM{content: `{"understanding":"원장님들은 문자 발송 장애를 가장 급하게 여긴다.","key_insights":["문자 발송 문의가 가장 잦다","첫 응답은 5분 내가 기대치"]}`}
	svc, events := newLearningFixture(t, stub)
	ctx := context.Background()

	ingestConversation(t, events)

	exec, err := svc.Run(ctx, learningexecution.TriggerTypeManual)
	require.NoError(t, err)
	assert.Equal(t, learningexecution.StatusSuccess, exec.Status)
	require.NotNil(t, exec.UnderstandingVersion)
	assert.Equal(t, 1, *exec.UnderstandingVersion)
	require.NotNil(t, exec.DurationSeconds)

	u, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Version)
	assert.Equal(t, 3, u.LogsAnalyzedCount)
	assert.Equal(t, "escalation-model", u.ModelUsed)
	assert.Len(t, u.KeyInsights, 2)
	require.NotNil(t, u.PromptTokens)
	assert.Equal(t, 1800, *u.PromptTokens)

	// The prompt carried the sampled conversation.
	require.Len(t, stub.prompts, 1)
	assert.Contains(t, stub.prompts[0], "강남A내과 단톡")
	assert.Contains(t, stub.prompts[0], "문자 안 나갔어요")
	assert.Contains(t, stub.prompts[0], "first run")

}

func TestRun_SecondVersionCarriesPrevious(t *testing.T) {
	stub := &stubLLM{content: `{"understanding":"v1 이해","key_insights":["a"]}`}
	svc, events := newLearningFixture(t, stub)
	ctx := context.Background()

	ingestConversation(t, events)
	_, err := svc.Run(ctx, learningexecution.TriggerTypeManual)
	require.NoError(t, err)

	// New corpus after the first window, then a second run.
	_, err = events.Submit(ctx, models.SubmitEventInput{
		DeviceID:   "device-1",
		ChatRoom:   "서초B의원 단톡",
		SenderName: "실장님",
		TextRaw:    "예약 명단 좀 보내주세요",
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	stub.content = `{"understanding":"v2 이해","key_insights":["b"]}`
	exec, err := svc.Run(ctx, learningexecution.TriggerTypeScheduled)
	require.NoError(t, err)
	require.NotNil(t, exec.UnderstandingVersion)
	assert.Equal(t, 2, *exec.UnderstandingVersion)

	// Continuity: the second prompt included the first understanding.
	require.Len(t, stub.prompts, 2)
	assert.Contains(t, stub.prompts[1], "v1 이해")

	u, err := svc.GetVersion(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "v2 이해", u.UnderstandingText)
}

func TestRun_EmptyWindowIsPartial(t *testing.T) {
	stub := &stubLLM{content: `{"understanding":"unused"}`}
	svc, _ := newLearningFixture(t, stub)
	ctx := context.Background()

	exec, err := svc.Run(ctx, learningexecution.TriggerTypeScheduled)
	require.NoError(t, err)
	assert.Equal(t, learningexecution.StatusPartial, exec.Status)
	assert.Nil(t, exec.UnderstandingVersion)

	_, err = svc.Latest(ctx)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Empty(t, stub.prompts, "no LLM call without a corpus")
}

func TestRun_LLMFailureIsFailed(t *testing.T) {
	stub := &stubLLM{err: errors.New("upstream 500")}
	svc, events := newLearningFixture(t, stub)
	ctx := context.Background()

	ingestConversation(t, events)

	exec, err := svc.Run(ctx, learningexecution.TriggerTypeManual)
	require.NoError(t, err)
	assert.Equal(t, learningexecution.StatusFailed, exec.Status)
	assert.Nil(t, exec.UnderstandingVersion)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, "upstream 500")

	_, err = svc.Latest(ctx)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestRun_ConcurrentTriggerRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	stub := &blockingLLM{release: release, started: started}
	svc, events := newLearningFixture(t, stub)
	ctx := context.Background()

	ingestConversation(t, events)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(ctx, learningexecution.TriggerTypeManual)
		done <- err
	}()

	<-started
	_, err := svc.Run(ctx, learningexecution.TriggerTypeManual)
	assert.ErrorIs(t, err, services.ErrAlreadyRunning)
	close(release)
	require.NoError(t, <-done)

	// Only the winning trigger produced an execution row.
	execs, err := svc.History(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

// blockingLLM parks the first call until released, so a second trigger can
// race the singleton lock.
type blockingLLM struct {
	release <-chan struct{}
	started chan<- struct{}
	once    sync.Once
}

func (b *blockingLLM) Complete(ctx context.Context, _ string, _ []llm.Message) (*llm.Result, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &llm.Result{Content: `{"understanding":"경합 테스트","key_insights":[]}`}, nil
}
