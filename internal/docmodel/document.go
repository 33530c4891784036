// Package docmodel holds the immutable wire/storage shapes shared by every
// component that touches a document or an oplog entry: the document itself,
// its sync bookkeeping sidecar, and the hash-chained operation log entry.
package docmodel

import "github.com/rachitkumar205/entgldb/internal/hlc"

// Document is the application-visible record stored in a collection.
// Content is kept as raw JSON since the store never interprets payload
// schema; callers are responsible for their own document shape conventions.
type Document struct {
	Collection string        `json:"collection"`
	Key        string        `json:"key"`
	Content    []byte        `json:"content,omitempty"`
	UpdatedAt  hlc.Timestamp `json:"updated_at"`
	IsDeleted  bool          `json:"is_deleted"`
}

// Metadata is the sync bookkeeping half of a document, kept separate so
// storage backends that cannot embed extra fields on the user's schema
// (a SQL table with a fixed column set, for instance) can track it in a
// side table instead.
type Metadata struct {
	UpdatedAt hlc.Timestamp `json:"updated_at"`
	IsDeleted bool          `json:"is_deleted"`
}

// Key identifies a document uniquely within a Store: collection plus the
// caller-supplied key string.
type Key struct {
	Collection string
	Key        string
}
