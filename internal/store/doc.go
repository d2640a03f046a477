// Package store provides keyed durable storage backed by SQLite.
//
// # Records
//
// A Record is a JSON payload addressed by a unique primary key and
// grouped by a secondary key (the conversation id, for every current
// caller). Range reads return a secondary key's records in insertion
// order; overwriting a record keeps its original position.
//
// # Stores
//
// One SQLite database file holds any number of independent stores, each
// in its own table:
//
//	db, err := store.OpenSQLite(path)
//	messages, err := db.Records("messages")
//	notes, err := db.Records("notes")
//
// The database runs in WAL mode with a busy timeout, so concurrent
// readers do not block the writer. Tables are created on first use.
//
// # Testing
//
// MemoryStore implements the same Store interface without a database.
// The shared test suite in store_test.go runs against both backends.
package store
