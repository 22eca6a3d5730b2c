package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Understanding holds the schema definition for the Understanding entity.
// Append-only: versions are allocated under a write lock and never updated.
type Understanding struct {
	ent.Schema
}

// Fields of the Understanding.
func (Understanding) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("understanding_id").
			Unique().
			Immutable(),
		field.Int("version").
			Unique().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Int("logs_analyzed_count").
			Immutable(),
		field.Time("logs_date_from").
			Immutable(),
		field.Time("logs_date_to").
			Immutable(),
		field.Text("understanding_text").
			Immutable(),
		field.JSON("key_insights", []string{}).
			Immutable(),
		field.String("model_used").
			Immutable(),
		field.Int("prompt_tokens").
			Optional().
			Nillable().
			Immutable(),
		field.Int("completion_tokens").
			Optional().
			Nillable().
			Immutable(),
	}
}

// Indexes of the Understanding.
func (Understanding) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("created_at"),
	}
}
