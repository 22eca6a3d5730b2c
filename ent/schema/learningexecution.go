package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LearningExecution holds the schema definition for the LearningExecution
// entity. One row per self-learning run, scheduled or manual.
type LearningExecution struct {
	ent.Schema
}

// Fields of the LearningExecution.
func (LearningExecution) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("execution_id").
			Unique().
			Immutable(),
		field.Time("executed_at").
			Default(time.Now).
			Immutable(),
		field.Enum("trigger_type").
			Values("scheduled", "manual").
			Immutable(),
		field.Enum("status").
			Values("running", "success", "partial", "failed").
			Default("running"),
		field.Float("duration_seconds").
			Optional().
			Nillable(),
		field.Int("understanding_version").
			Optional().
			Nillable(),
		field.Text("error_message").
			Optional().
			Nillable(),
	}
}

// Indexes of the LearningExecution.
func (LearningExecution) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("executed_at"),
		index.Fields("status"),
	}
}
