package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/appdata"
)

// Pull request status values stored in pr_matches. The first four mirror
// the upstream API; reviewer_removed is set locally when a reviewer drops
// off a PR.
const (
	PRStatusActive          = "active"
	PRStatusCompleted       = "completed"
	PRStatusAbandoned       = "abandoned"
	PRStatusDraft           = "draft"
	PRStatusReviewerRemoved = "reviewer_removed"
)

// Processing states caching the completion predicate.
const (
	ProcessingOpen   = "open"
	ProcessingClosed = "closed"
)

// PullRequestItem maps one (ADO pull request, reviewer) pair to one Asana
// task. The pair (ado_pr_id, reviewer_gid) is unique within the pr_matches
// table: one task per reviewer per PR.
type PullRequestItem struct {
	ADOPRID         int    `json:"ado_pr_id"`
	ADORepositoryID string `json:"ado_repository_id"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	URL             string `json:"url"`
	ReviewerGID     string `json:"reviewer_gid"`
	ReviewerName    string `json:"reviewer_name"`
	AsanaGID        string `json:"asana_gid"`
	AsanaUpdated    string `json:"asana_updated"`
	CreatedDate     string `json:"created_date"`
	UpdatedDate     string `json:"updated_date"`
	ReviewStatus    string `json:"review_status"`
	ProcessingState string `json:"processing_state"`
}

// NewPullRequestItem runs consistency validation on the freshly built item.
// A failure is logged as a corruption signal but does not fail: callers
// check ValidateDataConsistency explicitly before trusting or persisting.
func NewPullRequestItem(item PullRequestItem) *PullRequestItem {
	p := &item
	if !p.ValidateDataConsistency() {
		log.WithFields(log.Fields{
			"ado_pr_id": p.ADOPRID,
			"url":       p.URL,
			"title":     p.Title,
		}).Error("data consistency validation failed for PR item: PR ID and URL do not match")
	}
	return p
}

// AsanaTitle is the exact external task name for the reviewer task.
func (p *PullRequestItem) AsanaTitle() string {
	if p.ReviewerName != "" {
		return fmt.Sprintf("Pull Request %d: %s (%s)", p.ADOPRID, p.Title, p.ReviewerName)
	}
	return fmt.Sprintf("Pull Request %d: %s", p.ADOPRID, p.Title)
}

// AsanaNotesLink is the html_notes body linking back to the pull request.
func (p *PullRequestItem) AsanaNotesLink() string {
	return fmt.Sprintf(`<a href=%q>Pull Request %d</a>: %s`, p.URL, p.ADOPRID, html.EscapeString(p.Title))
}

// ValidateDataConsistency checks that the URL embeds the same PR id as the
// stored ado_pr_id: the integer following the literal "pullrequest" path
// segment must equal it. An absent URL or id, or a URL whose id segment
// cannot be parsed, cannot be validated and counts as consistent.
func (p *PullRequestItem) ValidateDataConsistency() bool {
	if p.URL == "" || p.ADOPRID == 0 {
		return true
	}
	parts := strings.Split(p.URL, "/")
	for i, part := range parts {
		if part != "pullrequest" {
			continue
		}
		if i+1 >= len(parts) {
			return true
		}
		urlID, err := strconv.Atoi(parts[i+1])
		if err != nil {
			return true
		}
		return urlID == p.ADOPRID
	}
	return true
}

// ShouldBeCompleted is the authoritative completion predicate: the Asana
// task is completed when the PR has reached a closed status, the reviewer
// has approved, or the reviewer was removed.
func (p *PullRequestItem) ShouldBeCompleted() bool {
	switch p.Status {
	case PRStatusCompleted, PRStatusAbandoned, PRStatusDraft, PRStatusReviewerRemoved:
		return true
	}
	switch p.ReviewStatus {
	case VoteApproved, VoteApprovedWithSuggestions, VoteRemoved:
		return true
	}
	return false
}

// prItemFromDoc rebuilds an item from a store document, stripping the
// injected doc_id and running construction-time validation.
func prItemFromDoc(doc appdata.Document) (*PullRequestItem, error) {
	clean := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != appdata.DocIDKey {
			clean[k] = v
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PR document: %w", err)
	}
	var item PullRequestItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode PR document: %w", err)
	}
	return NewPullRequestItem(item), nil
}

func (p *PullRequestItem) doc() (appdata.Document, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode PR item: %w", err)
	}
	var doc appdata.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode PR item: %w", err)
	}
	return doc, nil
}

// prSearchPredicate builds the query: when both the PR id and reviewer gid
// are given the match requires both; otherwise any single given criterion
// matches.
func prSearchPredicate(adoPRID int, reviewerGID, asanaGID string) appdata.Predicate {
	return func(doc appdata.Document) bool {
		docPRID, _ := doc.Int("ado_pr_id")
		if adoPRID != 0 && reviewerGID != "" {
			return docPRID == int64(adoPRID) && doc.Str("reviewer_gid") == reviewerGID
		}
		if adoPRID != 0 && docPRID == int64(adoPRID) {
			return true
		}
		if reviewerGID != "" && doc.Str("reviewer_gid") == reviewerGID {
			return true
		}
		if asanaGID != "" && doc.Str("asana_gid") == asanaGID {
			return true
		}
		return false
	}
}

// SearchPR returns the first mapping matching the given criteria, or nil.
//
// Beyond the entity's own consistency validation, the result is checked
// against the originally requested PR id: a store scrambled enough to
// return another PR's row must never surface reviewer data for the wrong
// PR, so a mismatch is logged and nil is returned. Callers cannot
// distinguish "not found" from "untrustworthy" by design.
func SearchPR(app *App, adoPRID int, reviewerGID, asanaGID string) *PullRequestItem {
	if app.PRMatches == nil {
		return nil
	}
	if adoPRID == 0 && reviewerGID == "" && asanaGID == "" {
		return nil
	}

	docs, err := app.PRMatches.Search(prSearchPredicate(adoPRID, reviewerGID, asanaGID))
	if err != nil || len(docs) == 0 {
		return nil
	}

	item, err := prItemFromDoc(docs[0])
	if err != nil {
		return nil
	}

	if adoPRID != 0 && item.ADOPRID != adoPRID {
		log.WithFields(log.Fields{
			"requested_pr_id": adoPRID,
			"returned_pr_id":  item.ADOPRID,
			"title":           item.Title,
		}).Warn("database corruption detected: search returned item for a different PR")
		return nil
	}
	return item
}

// Save persists the mapping keyed by (ado_pr_id, reviewer_gid) under the
// shared db lock. Before upserting, every other reviewer's row for the same
// PR that fails consistency validation is deleted (cleanup-on-write). An
// item that is itself inconsistent is refused, logged, and not persisted.
// A nil table or lock handle fails loudly.
func (p *PullRequestItem) Save(app *App) error {
	if app.PRMatches == nil {
		return errors.New("pr_matches table is nil")
	}
	if app.DBLock == nil {
		return errors.New("db lock is nil")
	}

	if !p.ValidateDataConsistency() {
		log.WithFields(log.Fields{
			"ado_pr_id": p.ADOPRID,
			"url":       p.URL,
			"title":     p.Title,
		}).Error("refusing to save PR item with inconsistent data")
		return nil
	}

	// processing_state caches the completion predicate so a later pass can
	// skip re-fetching upstream state for PRs already known closed. It must
	// track the predicate on every save, in both directions.
	if p.ShouldBeCompleted() {
		p.ProcessingState = ProcessingClosed
	} else {
		p.ProcessingState = ProcessingOpen
	}

	doc, err := p.doc()
	if err != nil {
		return err
	}

	app.DBLock.Lock()
	defer app.DBLock.Unlock()

	p.cleanupCorruptedSiblings(app)

	match := func(d appdata.Document) bool {
		id, _ := d.Int("ado_pr_id")
		return id == int64(p.ADOPRID) && d.Str("reviewer_gid") == p.ReviewerGID
	}
	_, err = app.PRMatches.Upsert(doc, match)
	return err
}

// cleanupCorruptedSiblings removes rows for the same PR but a different
// reviewer whose own consistency validation fails. Called with the db lock
// held.
func (p *PullRequestItem) cleanupCorruptedSiblings(app *App) {
	docs, err := app.PRMatches.Search(func(d appdata.Document) bool {
		id, _ := d.Int("ado_pr_id")
		return id == int64(p.ADOPRID)
	})
	if err != nil {
		log.WithError(err).Warn("failed to scan PR rows for cleanup")
		return
	}

	removed := 0
	for _, doc := range docs {
		if doc.Str("reviewer_gid") == p.ReviewerGID {
			continue
		}
		sibling, err := prItemFromDoc(doc)
		if err != nil || !sibling.ValidateDataConsistency() {
			if _, err := app.PRMatches.RemoveIDs(doc.DocID()); err != nil {
				log.WithError(err).WithField("doc_id", doc.DocID()).Warn("failed to remove corrupted PR row")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		log.WithFields(log.Fields{
			"count":     removed,
			"ado_pr_id": p.ADOPRID,
		}).Info("cleaned up corrupted PR records")
	}
}

// CleanupAllCorruptedRecords sweeps the whole pr_matches table, rebuilding
// an item from every row and deleting any that fail consistency validation
// or cannot be decoded at all. Returns the number of rows removed. Intended
// to run once at startup, before any reconciliation.
func CleanupAllCorruptedRecords(app *App) (int, error) {
	if app.PRMatches == nil {
		return 0, nil
	}
	if app.DBLock == nil {
		return 0, errors.New("db lock is nil")
	}

	app.DBLock.Lock()
	defer app.DBLock.Unlock()

	docs, err := app.PRMatches.All()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range docs {
		item, err := prItemFromDoc(doc)
		corrupted := err != nil || !item.ValidateDataConsistency()
		if !corrupted {
			continue
		}
		if _, err := app.PRMatches.RemoveIDs(doc.DocID()); err != nil {
			log.WithError(err).WithField("doc_id", doc.DocID()).Warn("failed to remove corrupted PR row")
			continue
		}
		prID, _ := doc.Int("ado_pr_id")
		log.WithFields(log.Fields{
			"doc_id":    doc.DocID(),
			"ado_pr_id": prID,
			"url":       doc.Str("url"),
		}).Warn("removed corrupted PR record")
		removed++
	}
	return removed, nil
}

// IsCurrent reports whether the mapping matches the live PR state: title,
// status, the linked Asana task's modification timestamp, and (when a
// reviewer is supplied) the reviewer's vote. A nil live PR is never
// current. Upstream fetch failures count as drift, not errors.
func (p *PullRequestItem) IsCurrent(app *App, livePR *ado.PullRequest, reviewer *ado.Reviewer) bool {
	if livePR == nil {
		return false
	}
	if livePR.Title != p.Title {
		return false
	}
	if livePR.Status != p.Status {
		return false
	}

	if p.AsanaGID != "" && app.Asana != nil {
		task, err := app.Asana.GetTask(p.AsanaGID)
		if err == nil && task != nil && task.ModifiedAt != p.AsanaUpdated {
			return false
		}
	}

	if reviewer != nil && ExtractReviewerVote(reviewer) != p.ReviewStatus {
		return false
	}
	return true
}
