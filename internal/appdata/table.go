package appdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is one decoded JSON row of a document table. When a document is
// returned from a query it carries a synthetic "doc_id" key holding the row
// id; the key is stripped again before anything is written back.
type Document map[string]any

// DocIDKey is the synthetic key injected into returned documents.
const DocIDKey = "doc_id"

// Predicate is a pure function deciding whether a document matches a query.
// Evaluation is a full-table scan.
type Predicate func(Document) bool

// Int returns the value at key as an int64. JSON numbers decode as float64,
// so integer fields need this accessor for comparisons.
func (d Document) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Str returns the value at key as a string, or "" if absent or not a string.
func (d Document) Str(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// DocID returns the injected row id, or 0 if the document did not come from
// a query.
func (d Document) DocID() int64 {
	id, _ := d.Int(DocIDKey)
	return id
}

// Table is a handle on one of the JSON document tables. All operations run
// inside an implicit transaction: on error every write since entering is
// rolled back and the error is returned; on success the transaction commits
// before the call returns.
type Table struct {
	store *Store
	name  string
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// encode marshals a document for storage, dropping the synthetic doc_id.
func encode(doc Document) (string, error) {
	if _, ok := doc[DocIDKey]; ok {
		clean := make(Document, len(doc))
		for k, v := range doc {
			if k != DocIDKey {
				clean[k] = v
			}
		}
		doc = clean
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return string(raw), nil
}

func decode(id int64, raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %d: %w", id, err)
	}
	doc[DocIDKey] = id
	return doc, nil
}

// scanMatching runs the predicate over every row of the table within the
// given transaction and returns the matching documents in row id order.
func (t *Table) scanMatching(tx *sql.Tx, match Predicate) ([]Document, error) {
	rows, err := tx.Query(fmt.Sprintf(`SELECT id, data FROM %s ORDER BY id`, t.name))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", t.name, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.name, err)
		}
		doc, err := decode(id, raw)
		if err != nil {
			return nil, err
		}
		if match == nil || match(doc) {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", t.name, err)
	}
	return docs, nil
}

func (t *Table) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := t.store.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Insert adds a new document and returns its row id.
func (t *Table) Insert(doc Document) (int64, error) {
	raw, err := encode(doc)
	if err != nil {
		return 0, err
	}

	var id int64
	err = t.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, t.name), raw)
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", t.name, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Update replaces the document of every row matching the predicate and
// returns the ids of the rows replaced. A no-op if nothing matches.
func (t *Table) Update(doc Document, match Predicate) ([]int64, error) {
	raw, err := encode(doc)
	if err != nil {
		return nil, err
	}

	var ids []int64
	err = t.inTx(func(tx *sql.Tx) error {
		matched, err := t.scanMatching(tx, match)
		if err != nil {
			return err
		}
		for _, m := range matched {
			ids = append(ids, m.DocID())
		}
		if len(ids) == 0 {
			return nil
		}
		query := fmt.Sprintf(
			`UPDATE %s SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (%s)`,
			t.name, placeholders(len(ids)),
		)
		args := make([]any, 0, len(ids)+1)
		args = append(args, raw)
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to update %s: %w", t.name, err)
		}
		return nil
	})
	return ids, err
}

// Upsert updates the first row matching the predicate, or inserts the
// document if none matches. Returns the affected row id.
func (t *Table) Upsert(doc Document, match Predicate) (int64, error) {
	raw, err := encode(doc)
	if err != nil {
		return 0, err
	}

	var id int64
	err = t.inTx(func(tx *sql.Tx) error {
		matched, err := t.scanMatching(tx, match)
		if err != nil {
			return err
		}
		if len(matched) > 0 {
			id = matched[0].DocID()
			_, err := tx.Exec(
				fmt.Sprintf(`UPDATE %s SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, t.name),
				raw, id,
			)
			if err != nil {
				return fmt.Errorf("failed to update %s row %d: %w", t.name, id, err)
			}
			return nil
		}
		res, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, t.name), raw)
		if err != nil {
			return fmt.Errorf("failed to insert into %s: %w", t.name, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Search returns all documents matching the predicate, each with the
// injected doc_id.
func (t *Table) Search(match Predicate) ([]Document, error) {
	var docs []Document
	err := t.inTx(func(tx *sql.Tx) error {
		var err error
		docs, err = t.scanMatching(tx, match)
		return err
	})
	return docs, err
}

// Contains reports whether any document matches the predicate.
func (t *Table) Contains(match Predicate) (bool, error) {
	docs, err := t.Search(match)
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// Get returns the document with the given row id, or nil if absent.
func (t *Table) Get(docID int64) (Document, error) {
	var doc Document
	err := t.inTx(func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRow(
			fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, t.name), docID,
		).Scan(&raw)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get %s row %d: %w", t.name, docID, err)
		}
		doc, err = decode(docID, raw)
		return err
	})
	return doc, err
}

// GetBy returns the first document whose fields equal all given criteria,
// or nil if none matches.
func (t *Table) GetBy(criteria map[string]any) (Document, error) {
	docs, err := t.Search(func(doc Document) bool {
		for k, want := range criteria {
			if fmt.Sprint(doc[k]) != fmt.Sprint(want) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// All returns every document in the table in row id order.
func (t *Table) All() ([]Document, error) {
	return t.Search(nil)
}

// Remove deletes all documents matching the predicate and returns the ids
// removed.
func (t *Table) Remove(match Predicate) ([]int64, error) {
	var ids []int64
	err := t.inTx(func(tx *sql.Tx) error {
		matched, err := t.scanMatching(tx, match)
		if err != nil {
			return err
		}
		for _, m := range matched {
			ids = append(ids, m.DocID())
		}
		if len(ids) == 0 {
			return nil
		}
		return t.deleteIDs(tx, ids)
	})
	return ids, err
}

// RemoveIDs deletes the rows with the given ids and returns them.
func (t *Table) RemoveIDs(ids ...int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	err := t.inTx(func(tx *sql.Tx) error {
		return t.deleteIDs(tx, ids)
	})
	return ids, err
}

func (t *Table) deleteIDs(tx *sql.Tx, ids []int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, t.name, placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", t.name, err)
	}
	return nil
}

// Count returns the number of rows in the table.
func (t *Table) Count() (int, error) {
	var count int
	err := t.store.conn.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.name)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.name, err)
	}
	return count, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
