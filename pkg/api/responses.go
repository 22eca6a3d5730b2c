package api

import (
	"time"

	"github.com/motionlabs/cswatch/ent"
)

// ticketResponse is the dashboard ticket shape with the derived SLA field.
type ticketResponse struct {
	ID               string     `json:"id"`
	ClinicKey        string     `json:"clinic_key"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority"`
	TopicPrimary     *string    `json:"topic_primary"`
	SummaryLatest    *string    `json:"summary_latest"`
	NextAction       *string    `json:"next_action"`
	NeedsReply       bool       `json:"needs_reply"`
	FirstInboundAt   *time.Time `json:"first_inbound_at"`
	LastInboundAt    *time.Time `json:"last_inbound_at"`
	LastOutboundAt   *time.Time `json:"last_outbound_at"`
	FirstResponseSec *int       `json:"first_response_sec"`
	SLABreached      bool       `json:"sla_breached"`
	SLARemainingSec  *int       `json:"sla_remaining_sec"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (s *Server) toTicketResponse(t *ent.Ticket, now time.Time) ticketResponse {
	return ticketResponse{
		ID:               t.ID,
		ClinicKey:        t.ClinicKey,
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		TopicPrimary:     t.TopicPrimary,
		SummaryLatest:    t.SummaryLatest,
		NextAction:       t.NextAction,
		NeedsReply:       t.NeedsReply,
		FirstInboundAt:   t.FirstInboundAt,
		LastInboundAt:    t.LastInboundAt,
		LastOutboundAt:   t.LastOutboundAt,
		FirstResponseSec: t.FirstResponseSec,
		SLABreached:      t.SlaBreached,
		SLARemainingSec:  s.ticketService.SLARemaining(t, now),
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// ticketListResponse is one dashboard page.
type ticketListResponse struct {
	Items []ticketResponse `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// annotationResponse is the LLM reading attached to an event.
type annotationResponse struct {
	Model            string   `json:"model"`
	PromptVersion    string   `json:"prompt_version"`
	Topic            *string  `json:"topic"`
	Urgency          *string  `json:"urgency"`
	Sentiment        *string  `json:"sentiment"`
	Intent           *string  `json:"intent"`
	Summary          *string  `json:"summary"`
	NextAction       *string  `json:"next_action"`
	Confidence       *float64 `json:"confidence"`
	Escalated        bool     `json:"escalated"`
	ErrorMessage     *string  `json:"error_message"`
	PromptTokens     *int     `json:"prompt_tokens"`
	CompletionTokens *int     `json:"completion_tokens"`
	LatencyMs        *int     `json:"latency_ms"`
}

// eventResponse is one chat message with its classification, if any.
type eventResponse struct {
	ID                   string              `json:"id"`
	ChatRoom             string              `json:"chat_room"`
	SenderName           string              `json:"sender_name"`
	SenderType           string              `json:"sender_type"`
	StaffMember          *string             `json:"staff_member"`
	Text                 string              `json:"text"`
	ReceivedAt           time.Time           `json:"received_at"`
	ServerReceivedAt     time.Time           `json:"server_received_at"`
	ClassificationStatus string              `json:"classification_status"`
	Annotation           *annotationResponse `json:"annotation"`
}

func toEventResponse(ev *ent.MessageEvent) eventResponse {
	out := eventResponse{
		ID:                   ev.ID,
		ChatRoom:             ev.ChatRoom,
		SenderName:           ev.SenderName,
		SenderType:           string(ev.SenderType),
		StaffMember:          ev.StaffMember,
		Text:                 ev.TextRaw,
		ReceivedAt:           ev.ReceivedAt,
		ServerReceivedAt:     ev.ServerReceivedAt,
		ClassificationStatus: string(ev.ClassificationStatus),
	}
	if ann := ev.Edges.Annotation; ann != nil {
		var urgency *string
		if ann.Urgency != nil {
			u := string(*ann.Urgency)
			urgency = &u
		}
		out.Annotation = &annotationResponse{
			Model:            ann.Model,
			PromptVersion:    ann.PromptVersion,
			Topic:            ann.Topic,
			Urgency:          urgency,
			Sentiment:        ann.Sentiment,
			Intent:           ann.Intent,
			Summary:          ann.Summary,
			NextAction:       ann.NextAction,
			Confidence:       ann.Confidence,
			Escalated:        ann.Escalated,
			ErrorMessage:     ann.ErrorMessage,
			PromptTokens:     ann.PromptTokens,
			CompletionTokens: ann.CompletionTokens,
			LatencyMs:        ann.LatencyMs,
		}
	}
	return out
}

// userResponse is an account without its credential hash.
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *ent.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

// understandingResponse is one self-learning artifact version.
type understandingResponse struct {
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	LogsAnalyzedCount int       `json:"logs_analyzed_count"`
	LogsDateFrom      time.Time `json:"logs_date_from"`
	LogsDateTo        time.Time `json:"logs_date_to"`
	UnderstandingText string    `json:"understanding_text"`
	KeyInsights       []string  `json:"key_insights"`
	ModelUsed         string    `json:"model_used"`
	PromptTokens      *int      `json:"prompt_tokens"`
	CompletionTokens  *int      `json:"completion_tokens"`
}

func toUnderstandingResponse(u *ent.Understanding) understandingResponse {
	return understandingResponse{
		Version:           u.Version,
		CreatedAt:         u.CreatedAt,
		LogsAnalyzedCount: u.LogsAnalyzedCount,
		LogsDateFrom:      u.LogsDateFrom,
		LogsDateTo:        u.LogsDateTo,
		UnderstandingText: u.UnderstandingText,
		KeyInsights:       u.KeyInsights,
		ModelUsed:         u.ModelUsed,
		PromptTokens:      u.PromptTokens,
		CompletionTokens:  u.CompletionTokens,
	}
}

// executionResponse is one learning run record.
type executionResponse struct {
	ID                   string    `json:"id"`
	ExecutedAt           time.Time `json:"executed_at"`
	TriggerType          string    `json:"trigger_type"`
	Status               string    `json:"status"`
	DurationSeconds      *float64  `json:"duration_seconds"`
	UnderstandingVersion *int      `json:"understanding_version"`
	ErrorMessage         *string   `json:"error_message"`
}

func toExecutionResponse(e *ent.LearningExecution) executionResponse {
	return executionResponse{
		ID:                   e.ID,
		ExecutedAt:           e.ExecutedAt,
		TriggerType:          string(e.TriggerType),
		Status:               string(e.Status),
		DurationSeconds:      e.DurationSeconds,
		UnderstandingVersion: e.UnderstandingVersion,
		ErrorMessage:         e.ErrorMessage,
	}
}

// notificationResponse is one feed entry.
type notificationResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      *string   `json:"link"`
	IsRead    bool      `json:"is_read"`
	TicketID  *string   `json:"ticket_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toNotificationResponse(n *ent.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		IsRead:    n.IsRead,
		TicketID:  n.TicketID,
		CreatedAt: n.CreatedAt,
	}
}
