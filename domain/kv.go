package domain

import "time"

// KVEntry is an opaque value stored under a slash-joined hierarchical key.
// The protocol engine keeps its own persistence here; the core uses it for
// migration flags and re-follow controller state.
type KVEntry struct {
	Key       string      `bson:"key" json:"key"`
	Value     interface{} `bson:"value" json:"value"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updatedAt"`
}

// MigrationFlag marks a one-shot migration as applied.
type MigrationFlag struct {
	Completed bool      `bson:"completed" json:"completed"`
	Date      time.Time `bson:"date" json:"date"`
	Updated   int64     `bson:"updated" json:"updated"`
}
