package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/ticket"
	"github.com/motionlabs/cswatch/pkg/models"
	testdb "github.com/motionlabs/cswatch/test/database"
)

func TestApplyClassification_PriorityRaiseOnly(t *testing.T) {
	client := testdb.NewTestClient(t)
	tickets := NewTicketService(client.Client, 20*time.Minute)
	events := NewEventService(client.Client, tickets, 10*time.Second)
	ctx := context.Background()

	_, err := events.Submit(ctx, customerPayload(kstTime(10, 0)))
	require.NoError(t, err)
	tkt, err := client.Ticket.Query().Only(ctx)
	require.NoError(t, err)

	apply := func(facts AnnotationFacts) *ent.Ticket {
		tx, err := client.Tx(ctx)
		require.NoError(t, err)
		require.NoError(t, tickets.ApplyClassification(ctx, tx, tkt.ID, facts))
		require.NoError(t, tx.Commit())
		out, err := client.Ticket.Get(ctx, tkt.ID)
		require.NoError(t, err)
		return out
	}

	// critical → urgent raises from normal.
	out := apply(AnnotationFacts{Topic: "문자 발송 오류", Summary: "문자 미발송 문의", Urgency: "critical"})
	assert.Equal(t, ticket.PriorityUrgent, out.Priority)
	require.NotNil(t, out.TopicPrimary)
	assert.Equal(t, "문자 발송 오류", *out.TopicPrimary)

	// A later low urgency never lowers the priority.
	out = apply(AnnotationFacts{Urgency: "low", Summary: "후속 문의"})
	assert.Equal(t, ticket.PriorityUrgent, out.Priority)
	require.NotNil(t, out.SummaryLatest)
	assert.Equal(t, "후속 문의", *out.SummaryLatest)

	// Operator edits are unconstrained: lowering is allowed.
	low := "low"
	downgraded, err := tickets.UpdateTicket(ctx, tkt.ID, models.TicketPatch{Priority: &low})
	require.NoError(t, err)
	assert.Equal(t, ticket.PriorityLow, downgraded.Priority)
}

func TestUpdateTicket_Validation(t *testing.T) {
	client := testdb.NewTestClient(t)
	tickets := NewTicketService(client.Client, 20*time.Minute)
	events := NewEventService(client.Client, tickets, 10*time.Second)
	ctx := context.Background()

	_, err := events.Submit(ctx, customerPayload(kstTime(10, 0)))
	require.NoError(t, err)
	tkt, err := client.Ticket.Query().Only(ctx)
	require.NoError(t, err)

	bogus := "onboarding"
	_, err = tickets.UpdateTicket(ctx, tkt.ID, models.TicketPatch{Status: &bogus})
	assert.True(t, IsValidationError(err))

	badPriority := "severe"
	_, err = tickets.UpdateTicket(ctx, tkt.ID, models.TicketPatch{Priority: &badPriority})
	assert.True(t, IsValidationError(err))

	needsReply := true
	nextAction := "원장님께 발송 로그 전달"
	updated, err := tickets.UpdateTicket(ctx, tkt.ID, models.TicketPatch{
		NeedsReply: &needsReply,
		NextAction: &nextAction,
	})
	require.NoError(t, err)
	assert.True(t, updated.NeedsReply)
	require.NotNil(t, updated.NextAction)
	assert.Equal(t, nextAction, *updated.NextAction)

	_, err = tickets.UpdateTicket(ctx, "missing-id", models.TicketPatch{NeedsReply: &needsReply})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSLARemaining(t *testing.T) {
	tickets := NewTicketService(testdb.NewTestClient(t).Client, 20*time.Minute)
	now := time.Date(2026, 1, 13, 10, 10, 0, 0, time.UTC)

	noInquiry := &ent.Ticket{}
	assert.Nil(t, tickets.SLARemaining(noInquiry, now))

	inbound := now.Add(-5 * time.Minute)
	running := &ent.Ticket{FirstInboundAt: &inbound}
	remaining := tickets.SLARemaining(running, now)
	require.NotNil(t, remaining)
	assert.Equal(t, 15*60, *remaining)

	overdueAt := now.Add(-25 * time.Minute)
	overdue := &ent.Ticket{FirstInboundAt: &overdueAt}
	remaining = tickets.SLARemaining(overdue, now)
	require.NotNil(t, remaining)
	assert.Equal(t, -5*60, *remaining)
}

func TestListTickets_Filters(t *testing.T) {
	client := testdb.NewTestClient(t)
	tickets := NewTicketService(client.Client, 20*time.Minute)
	events := NewEventService(client.Client, tickets, 10*time.Second)
	ctx := context.Background()

	rooms := []string{"강남A내과 단톡", "서초B의원 단톡", "판교C피부과 단톡"}
	for _, room := range rooms {
		payload := customerPayload(kstTime(10, 0))
		payload.ChatRoom = room
		payload.TextRaw = room + " 문의"
		_, err := events.Submit(ctx, payload)
		require.NoError(t, err)
	}

	all, total, err := tickets.ListTickets(ctx, models.TicketListParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	one, total, err := tickets.ListTickets(ctx, models.TicketListParams{ClinicKey: rooms[1]})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, one, 1)
	assert.Equal(t, rooms[1], one[0].ClinicKey)

	paged, total, err := tickets.ListTickets(ctx, models.TicketListParams{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, paged, 1)

	_, _, err = tickets.ListTickets(ctx, models.TicketListParams{Status: "stable"})
	assert.True(t, IsValidationError(err))
}
