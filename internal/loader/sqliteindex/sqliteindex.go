// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sqliteindex provides an optional SQLite-indexed secondary index
// (SPEC_FULL.md §11, spec.md §6.1 "SQLite-indexed in-memory database")
// over an objectmodel.Store's arena, for get_by_id/refs() lookups at large
// graph sizes. It is filled only by an explicit Build call rather than on
// every compile: objectmodel.Store's own Get/All/Refs are O(1)/O(n) already
// and sufficient for ordinary compiles, so most callers never pay for it.
// Grounded in internal/services/dns/querylog's Store (modernc.org/sqlite
// over database/sql, an init-schema-then-exec-statements shape).
package sqliteindex

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"grimm.is/flywall/internal/objectmodel"
)

// Index is an in-memory SQLite index over one Store, filled by Build;
// queries made before Build find nothing or return an error. Build itself
// is not safe to run concurrently with queries.
type Index struct {
	store *objectmodel.Store
	db    *sql.DB
}

// New returns an unbuilt Index over store.
func New(store *objectmodel.Store) *Index {
	return &Index{store: store}
}

// Build populates the index's tables from the current contents of the
// Store. It is idempotent: calling it again rebuilds from scratch, which
// callers should do after mutating the Store (the index does not observe
// Store writes on its own).
func (idx *Index) Build() error {
	if idx.db != nil {
		idx.db.Close()
		idx.db = nil
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("sqliteindex: open: %w", err)
	}

	schema := `
	CREATE TABLE objects (
		id   INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL
	);
	CREATE INDEX idx_objects_name ON objects(name);
	CREATE TABLE refs (
		from_id INTEGER NOT NULL,
		to_id   INTEGER NOT NULL
	);
	CREATE INDEX idx_refs_to ON refs(to_id);
	CREATE INDEX idx_refs_from ON refs(from_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("sqliteindex: schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return fmt.Errorf("sqliteindex: begin: %w", err)
	}

	objStmt, err := tx.Prepare("INSERT INTO objects (id, kind, name) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		db.Close()
		return fmt.Errorf("sqliteindex: prepare objects: %w", err)
	}
	refStmt, err := tx.Prepare("INSERT INTO refs (from_id, to_id) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		db.Close()
		return fmt.Errorf("sqliteindex: prepare refs: %w", err)
	}

	for _, o := range idx.store.All() {
		if _, err := objStmt.Exec(int64(o.ID), o.Kind.String(), o.Name); err != nil {
			tx.Rollback()
			db.Close()
			return fmt.Errorf("sqliteindex: insert object %d: %w", o.ID, err)
		}
		for _, to := range idx.store.Refs(o) {
			if _, err := refStmt.Exec(int64(o.ID), int64(to)); err != nil {
				tx.Rollback()
				db.Close()
				return fmt.Errorf("sqliteindex: insert ref %d->%d: %w", o.ID, to, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		db.Close()
		return fmt.Errorf("sqliteindex: commit: %w", err)
	}

	idx.db = db
	return nil
}

// Close releases the underlying SQLite connection. A closed Index must be
// rebuilt with Build before further queries.
func (idx *Index) Close() error {
	if idx.db == nil {
		return nil
	}
	err := idx.db.Close()
	idx.db = nil
	return err
}

// GetByID looks up a Handle by its integer value and returns the matching
// Store object, mirroring spec.md §6.1's `get_by_id` facade method.
func (idx *Index) GetByID(id objectmodel.Handle) (*objectmodel.Object, bool) {
	return idx.store.Get(id)
}

// GetByName returns the Handle of the first indexed object with the given
// name, or false if none matches.
func (idx *Index) GetByName(name string) (objectmodel.Handle, bool) {
	if idx.db == nil {
		return objectmodel.InvalidHandle, false
	}
	var id int64
	err := idx.db.QueryRow("SELECT id FROM objects WHERE name = ? LIMIT 1", name).Scan(&id)
	if err != nil {
		return objectmodel.InvalidHandle, false
	}
	return objectmodel.Handle(id), true
}

// ReferencedBy returns every Handle that refs() the given target Handle,
// the reverse direction of objectmodel.Store.Refs, which sqliteindex's
// indexed refs table answers in O(log n) instead of a full arena scan.
func (idx *Index) ReferencedBy(target objectmodel.Handle) ([]objectmodel.Handle, error) {
	if idx.db == nil {
		return nil, fmt.Errorf("sqliteindex: index not built")
	}
	rows, err := idx.db.Query("SELECT from_id FROM refs WHERE to_id = ?", int64(target))
	if err != nil {
		return nil, fmt.Errorf("sqliteindex: query referenced-by: %w", err)
	}
	defer rows.Close()

	var out []objectmodel.Handle
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqliteindex: scan: %w", err)
		}
		out = append(out, objectmodel.Handle(id))
	}
	return out, rows.Err()
}
