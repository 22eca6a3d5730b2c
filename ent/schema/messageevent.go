package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// MessageEvent holds the schema definition for the MessageEvent entity.
// One row per delivered chat message. Rows are immutable after ingest except
// for the classification tracking fields maintained by the classifier worker.
type MessageEvent struct {
	ent.Schema
}

// Fields of the MessageEvent.
func (MessageEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable(),
		field.String("device_id").
			Immutable(),
		field.String("chat_room").
			MaxLen(512).
			Immutable().
			Comment("Room display name; equals the ticket's clinic_key in v1"),
		field.String("sender_name").
			Immutable(),
		field.Text("text_raw").
			Immutable(),
		field.Time("received_at").
			Immutable().
			Comment("Client-side delivery timestamp"),
		field.Time("server_received_at").
			Default(time.Now).
			Immutable(),
		field.String("notification_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("text_hash").
			Immutable().
			Comment("SHA-256 over chat_room, sender_name, text_raw"),
		field.Time("bucket_ts").
			Immutable().
			Comment("received_at floored to the dedup window"),
		field.Enum("sender_type").
			Values("customer", "staff").
			Immutable(),
		field.String("staff_member").
			Optional().
			Nillable().
			Immutable(),
		field.String("ticket_id"),
		field.Enum("classification_status").
			Values("pending", "classified", "failed").
			Default("pending"),
		field.Int("classify_attempts").
			Default(0),
	}
}

// Edges of the MessageEvent.
func (MessageEvent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("ticket", Ticket.Type).
			Ref("events").
			Field("ticket_id").
			Unique().
			Required(),
		edge.To("annotation", LLMAnnotation.Type).
			Unique(),
	}
}

// Indexes of the MessageEvent.
func (MessageEvent) Indexes() []ent.Index {
	return []ent.Index{
		// Dedup identity: identical text in the same bucket is one delivery.
		index.Fields("text_hash", "bucket_ts").
			Unique(),
		index.Fields("ticket_id", "received_at"),
		index.Fields("classification_status", "server_received_at"),
	}
}
