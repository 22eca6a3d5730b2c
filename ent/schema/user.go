package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// User holds the schema definition for the User entity.
type User struct {
	ent.Schema
}

// Fields of the User.
func (User) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("user_id").
			Unique().
			Immutable(),
		field.String("email").
			Unique(),
		field.String("name"),
		field.String("password_hash").
			Sensitive(),
		field.Enum("role").
			Values("admin", "member").
			Default("member"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}
