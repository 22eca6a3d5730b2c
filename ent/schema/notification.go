package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Notification holds the schema definition for the Notification entity.
// Operator-visible feed entries: SLA breaches, urgent tickets, and system
// degradation notices.
type Notification struct {
	ent.Schema
}

// Fields of the Notification.
func (Notification) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("notification_id").
			Unique().
			Immutable(),
		field.Enum("type").
			Values("sla_breach", "urgent_ticket", "system", "info").
			Immutable(),
		field.String("title").
			Immutable(),
		field.Text("message").
			Immutable(),
		field.String("link").
			Optional().
			Nillable().
			Immutable(),
		field.Bool("is_read").
			Default(false),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.String("ticket_id").
			Optional().
			Nillable(),
	}
}

// Edges of the Notification.
func (Notification) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("ticket", Ticket.Type).
			Ref("notifications").
			Field("ticket_id").
			Unique(),
	}
}

// Indexes of the Notification.
func (Notification) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("is_read", "created_at"),
		// At most one breach alert per ticket.
		index.Fields("ticket_id").
			Unique().
			Annotations(entsql.IndexWhere("type = 'sla_breach'")),
	}
}
