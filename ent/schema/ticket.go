package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Ticket holds the schema definition for the Ticket entity.
// At most one non-done ticket exists per clinic_key at any time; the partial
// unique index below backs that invariant at the schema layer.
type Ticket struct {
	ent.Schema
}

// Fields of the Ticket.
func (Ticket) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("ticket_id").
			Unique().
			Immutable(),
		field.String("clinic_key").
			Immutable(),
		field.Enum("status").
			Values("new", "in_progress", "waiting", "done").
			Default("new"),
		field.Enum("priority").
			Values("low", "normal", "high", "urgent").
			Default("normal"),
		field.String("topic_primary").
			Optional().
			Nillable(),
		field.Text("summary_latest").
			Optional().
			Nillable(),
		field.String("next_action").
			Optional().
			Nillable(),
		field.Bool("needs_reply").
			Default(false),
		field.Time("first_inbound_at").
			Optional().
			Nillable().
			Comment("Start of the current customer inquiry; reset on re-inquiry"),
		field.Time("last_inbound_at").
			Optional().
			Nillable(),
		field.Time("last_outbound_at").
			Optional().
			Nillable(),
		field.Int("first_response_sec").
			Optional().
			Nillable().
			Comment("Set exactly once, on the first staff reply after first_inbound_at"),
		field.Bool("sla_breached").
			Default(false),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Ticket.
func (Ticket) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("events", MessageEvent.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("notifications", Notification.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Ticket.
func (Ticket) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("priority"),
		index.Fields("status", "updated_at"),
		index.Fields("sla_breached", "first_inbound_at"),
		// Single open ticket per room.
		index.Fields("clinic_key").
			Unique().
			Annotations(entsql.IndexWhere("status != 'done'")),
	}
}
