package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LLMAnnotation holds the schema definition for the LLMAnnotation entity.
// One row per event: either the successful classification or, after retries
// are exhausted, the permanent-failure record (error_message set).
type LLMAnnotation struct {
	ent.Schema
}

// Fields of the LLMAnnotation.
func (LLMAnnotation) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("annotation_id").
			Unique().
			Immutable(),
		field.String("event_id").
			Unique().
			Immutable(),
		field.String("model").
			Immutable().
			Comment("Model that produced the final result, or was last attempted"),
		field.String("prompt_version").
			Immutable(),
		field.String("topic").
			Optional().
			Nillable(),
		field.Enum("urgency").
			Values("low", "medium", "high", "critical").
			Optional().
			Nillable(),
		field.String("sentiment").
			Optional().
			Nillable(),
		field.String("intent").
			Optional().
			Nillable(),
		field.Text("summary").
			Optional().
			Nillable(),
		field.String("next_action").
			Optional().
			Nillable(),
		field.Float("confidence").
			Optional().
			Nillable(),
		field.Bool("escalated").
			Default(false).
			Comment("True when the escalation model produced the result"),
		field.String("error_message").
			Optional().
			Nillable().
			Comment("null = success, not-null = permanently failed"),
		field.Int("prompt_tokens").
			Optional().
			Nillable(),
		field.Int("completion_tokens").
			Optional().
			Nillable(),
		field.Int("latency_ms").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the LLMAnnotation.
func (LLMAnnotation) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("event", MessageEvent.Type).
			Ref("annotation").
			Field("event_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the LLMAnnotation.
func (LLMAnnotation) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("created_at"),
	}
}
