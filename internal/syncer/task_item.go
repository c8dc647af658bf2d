package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"

	"github.com/danstis/ado-asana-sync/internal/appdata"
)

// TaskItem maps one ADO work item to one Asana task. At most one mapping
// exists per ado_id. Timestamps are stored as ISO-8601 strings and compared
// verbatim.
type TaskItem struct {
	ADOID        int    `json:"ado_id"`
	ADORev       int    `json:"ado_rev"`
	Title        string `json:"title"`
	ItemType     string `json:"item_type"`
	State        string `json:"state"`
	URL          string `json:"url"`
	AsanaGID     string `json:"asana_gid"`
	AsanaUpdated string `json:"asana_updated"`
	AssignedTo   string `json:"assigned_to"`
	CreatedDate  string `json:"created_date"`
	UpdatedDate  string `json:"updated_date"`
	DueDate      string `json:"due_date,omitempty"`
}

// AsanaTitle is the exact external task name: "{item_type} {id}: {title}".
// Existing Asana tasks are adopted by this name, so the format must never
// drift.
func (t *TaskItem) AsanaTitle() string {
	return fmt.Sprintf("%s %d: %s", t.ItemType, t.ADOID, t.Title)
}

// AsanaNotesLink is the html_notes body linking back to the work item.
func (t *TaskItem) AsanaNotesLink() string {
	return fmt.Sprintf(`<a href=%q>%s %d</a>: %s`, t.URL, t.ItemType, t.ADOID, html.EscapeString(t.Title))
}

// taskItemFromDoc builds a TaskItem from a store document, dropping the
// injected doc_id.
func taskItemFromDoc(doc appdata.Document) (*TaskItem, error) {
	clean := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != appdata.DocIDKey {
			clean[k] = v
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task document: %w", err)
	}
	var item TaskItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode task document: %w", err)
	}
	return &item, nil
}

func (t *TaskItem) doc() (appdata.Document, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task item: %w", err)
	}
	var doc appdata.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode task item: %w", err)
	}
	return doc, nil
}

// FindTaskByADOID returns the mapping for the given work item id, or nil
// when none exists.
func FindTaskByADOID(app *App, adoID int) (*TaskItem, error) {
	if app.Matches == nil {
		return nil, errors.New("matches table is nil")
	}
	docs, err := app.Matches.Search(func(doc appdata.Document) bool {
		id, ok := doc.Int("ado_id")
		return ok && id == int64(adoID)
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return taskItemFromDoc(docs[0])
}

// SearchTask returns the first mapping matching either the ADO id or the
// Asana gid, or nil when neither criterion is supplied, no row matches, or
// the table handle is unavailable.
func SearchTask(app *App, adoID int, asanaGID string) *TaskItem {
	if app.Matches == nil {
		return nil
	}
	if adoID == 0 && asanaGID == "" {
		return nil
	}
	docs, err := app.Matches.Search(func(doc appdata.Document) bool {
		if adoID != 0 {
			if id, ok := doc.Int("ado_id"); ok && id == int64(adoID) {
				return true
			}
		}
		if asanaGID != "" && doc.Str("asana_gid") == asanaGID {
			return true
		}
		return false
	})
	if err != nil || len(docs) == 0 {
		return nil
	}
	item, err := taskItemFromDoc(docs[0])
	if err != nil {
		return nil
	}
	return item
}

// Save persists the mapping under the shared db lock: the row with the same
// ado_id is replaced if present, otherwise a new row is inserted. A nil
// table or lock handle is a programmer error and fails loudly.
func (t *TaskItem) Save(app *App) error {
	if app.Matches == nil {
		return errors.New("matches table is nil")
	}
	if app.DBLock == nil {
		return errors.New("db lock is nil")
	}

	doc, err := t.doc()
	if err != nil {
		return err
	}
	match := func(d appdata.Document) bool {
		id, ok := d.Int("ado_id")
		return ok && id == int64(t.ADOID)
	}

	app.DBLock.Lock()
	defer app.DBLock.Unlock()

	_, err = app.Matches.Upsert(doc, match)
	return err
}

// IsCurrent reports whether the mapping is up to date with both upstream
// systems. The live work item and Asana task are fetched; a failed fetch or
// a missing object means not current, as does any drift between the stored
// revision/modified timestamp and the live values. Upstream errors never
// propagate: staleness checking must not block reconciliation.
func (t *TaskItem) IsCurrent(app *App) bool {
	if app.WorkItems == nil || app.Asana == nil {
		return false
	}

	workItem, err := app.WorkItems.GetWorkItem(t.ADOID)
	if err != nil || workItem == nil {
		return false
	}
	task, err := app.Asana.GetTask(t.AsanaGID)
	if err != nil || task == nil {
		return false
	}

	if workItem.Rev != t.ADORev {
		return false
	}
	if task.ModifiedAt != t.AsanaUpdated {
		return false
	}
	return true
}
