package syncer

import (
	"testing"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/appdata"
	"github.com/danstis/ado-asana-sync/internal/asana"
)

func TestPullRequestItem_ValidateDataConsistency(t *testing.T) {
	tests := []struct {
		name string
		prID int
		url  string
		want bool
	}{
		{"matching id", 500, "https://dev.azure.com/org/proj/_git/repo/pullrequest/500", true},
		{"mismatched id", 500, "https://dev.azure.com/org/proj/_git/repo/pullrequest/999", false},
		{"no url", 500, "", true},
		{"no id", 0, "https://dev.azure.com/org/proj/_git/repo/pullrequest/500", true},
		{"no pullrequest segment", 500, "https://dev.azure.com/org/proj/_git/repo", true},
		{"unparseable segment", 500, "https://dev.azure.com/org/proj/_git/repo/pullrequest/abc", true},
		{"segment at end of url", 500, "https://dev.azure.com/org/pullrequest", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &PullRequestItem{ADOPRID: tt.prID, URL: tt.url}
			if got := item.ValidateDataConsistency(); got != tt.want {
				t.Errorf("ValidateDataConsistency() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPullRequestItem_AsanaTitle(t *testing.T) {
	item := &PullRequestItem{ADOPRID: 42, Title: "Add caching", ReviewerName: "Jo Smith"}
	want := "Pull Request 42: Add caching (Jo Smith)"
	if got := item.AsanaTitle(); got != want {
		t.Errorf("AsanaTitle() = %q, want %q", got, want)
	}

	item.ReviewerName = ""
	want = "Pull Request 42: Add caching"
	if got := item.AsanaTitle(); got != want {
		t.Errorf("AsanaTitle() without reviewer = %q, want %q", got, want)
	}
}

func TestPullRequestItem_ShouldBeCompleted(t *testing.T) {
	tests := []struct {
		name         string
		status       string
		reviewStatus string
		want         bool
	}{
		{"active with no vote", PRStatusActive, VoteNoVote, false},
		{"active waiting for author", PRStatusActive, VoteWaitingForAuthor, false},
		{"active rejected", PRStatusActive, VoteRejected, false},
		{"active approved", PRStatusActive, VoteApproved, true},
		{"active approved with suggestions", PRStatusActive, VoteApprovedWithSuggestions, true},
		{"active removed vote", PRStatusActive, VoteRemoved, true},
		{"completed", PRStatusCompleted, VoteNoVote, true},
		{"abandoned", PRStatusAbandoned, VoteNoVote, true},
		{"draft", PRStatusDraft, VoteNoVote, true},
		{"reviewer removed", PRStatusReviewerRemoved, VoteNoVote, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &PullRequestItem{Status: tt.status, ReviewStatus: tt.reviewStatus}
			if got := item.ShouldBeCompleted(); got != tt.want {
				t.Errorf("ShouldBeCompleted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPullRequestItem_SaveKeyedByPRAndReviewer(t *testing.T) {
	app := newTestApp(t)

	itemA := &PullRequestItem{ADOPRID: 1, ReviewerGID: "u1", Title: "v1", Status: PRStatusActive}
	itemB := &PullRequestItem{ADOPRID: 1, ReviewerGID: "u2", Title: "v1", Status: PRStatusActive}
	if err := itemA.Save(app); err != nil {
		t.Fatalf("Save(A) error = %v", err)
	}
	if err := itemB.Save(app); err != nil {
		t.Fatalf("Save(B) error = %v", err)
	}

	// Same reviewer again replaces, not duplicates.
	itemA.Title = "v2"
	if err := itemA.Save(app); err != nil {
		t.Fatalf("Save(A) again error = %v", err)
	}

	count, err := app.PRMatches.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2 (one row per reviewer)", count)
	}
}

func TestPullRequestItem_SaveRefusesInconsistentData(t *testing.T) {
	app := newTestApp(t)

	item := &PullRequestItem{
		ADOPRID:     500,
		ReviewerGID: "u1",
		URL:         "https://dev.azure.com/org/_git/repo/pullrequest/999",
	}
	if err := item.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	count, err := app.PRMatches.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, inconsistent item must not be persisted", count)
	}
}

func TestPullRequestItem_SaveUpdatesProcessingState(t *testing.T) {
	app := newTestApp(t)

	item := &PullRequestItem{ADOPRID: 2, ReviewerGID: "u1", Status: PRStatusActive, ReviewStatus: VoteNoVote}
	if err := item.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if item.ProcessingState != ProcessingOpen {
		t.Errorf("ProcessingState = %q, want %q", item.ProcessingState, ProcessingOpen)
	}

	item.ReviewStatus = VoteApproved
	if err := item.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if item.ProcessingState != ProcessingClosed {
		t.Errorf("ProcessingState after approval = %q, want %q", item.ProcessingState, ProcessingClosed)
	}

	// Reopening (vote reset) flips it back.
	item.ReviewStatus = VoteNoVote
	if err := item.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if item.ProcessingState != ProcessingOpen {
		t.Errorf("ProcessingState after vote reset = %q, want %q", item.ProcessingState, ProcessingOpen)
	}
}

func TestPullRequestItem_SaveCleansCorruptedSiblings(t *testing.T) {
	app := newTestApp(t)

	// A corrupted row for the same PR but a different reviewer, and a healthy
	// row for an unrelated PR that must survive the cleanup.
	if _, err := app.PRMatches.Insert(appdata.Document{
		"ado_pr_id":    1,
		"reviewer_gid": "corrupt",
		"url":          "https://dev.azure.com/org/_git/repo/pullrequest/999",
	}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := app.PRMatches.Insert(appdata.Document{
		"ado_pr_id":    7,
		"reviewer_gid": "healthy",
		"url":          "https://dev.azure.com/org/_git/repo/pullrequest/7",
	}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	item := &PullRequestItem{ADOPRID: 1, ReviewerGID: "u1", Status: PRStatusActive}
	if err := item.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if got := SearchPR(app, 1, "corrupt", ""); got != nil {
		t.Error("corrupted sibling row survived Save()")
	}
	if got := SearchPR(app, 7, "healthy", ""); got == nil {
		t.Error("healthy row for another PR was removed by Save()")
	}
	if got := SearchPR(app, 1, "u1", ""); got == nil {
		t.Error("saved item not found")
	}
}

func TestSearchPR_BothCriteriaRequireBoth(t *testing.T) {
	app := newTestApp(t)

	a := &PullRequestItem{ADOPRID: 1, ReviewerGID: "u1", Status: PRStatusActive}
	b := &PullRequestItem{ADOPRID: 1, ReviewerGID: "u2", Status: PRStatusActive}
	if err := a.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := b.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got := SearchPR(app, 1, "u2", "")
	if got == nil {
		t.Fatal("SearchPR(1, u2) = nil")
	}
	if got.ReviewerGID != "u2" {
		t.Errorf("ReviewerGID = %q, want %q", got.ReviewerGID, "u2")
	}

	if got := SearchPR(app, 1, "nobody", ""); got != nil {
		t.Errorf("SearchPR with unmatched reviewer = %+v, want nil (AND semantics)", got)
	}
}

func TestSearchPR_RejectsWrongPRResult(t *testing.T) {
	app := newTestApp(t)

	// A scrambled row whose asana_gid matches the query but whose PR id does
	// not match the requested one.
	if _, err := app.PRMatches.Insert(appdata.Document{
		"ado_pr_id":    999,
		"reviewer_gid": "u1",
		"asana_gid":    "g1",
	}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if got := SearchPR(app, 5, "", "g1"); got != nil {
		t.Errorf("SearchPR() = %+v, want nil when the row belongs to another PR", got)
	}
}

func TestSearchPR_NoCriteriaReturnsNil(t *testing.T) {
	app := newTestApp(t)
	if got := SearchPR(app, 0, "", ""); got != nil {
		t.Errorf("SearchPR with no criteria = %+v, want nil", got)
	}
}

func TestCleanupAllCorruptedRecords(t *testing.T) {
	app := newTestApp(t)

	good := &PullRequestItem{
		ADOPRID:     7,
		ReviewerGID: "u1",
		Status:      PRStatusActive,
		URL:         "https://dev.azure.com/org/_git/repo/pullrequest/7",
	}
	if err := good.Save(app); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := app.PRMatches.Insert(appdata.Document{
		"ado_pr_id":    8,
		"reviewer_gid": "u2",
		"url":          "https://dev.azure.com/org/_git/repo/pullrequest/999",
	}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	removed, err := CleanupAllCorruptedRecords(app)
	if err != nil {
		t.Fatalf("CleanupAllCorruptedRecords() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	count, err := app.PRMatches.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d after cleanup, want 1", count)
	}
	if got := SearchPR(app, 7, "u1", ""); got == nil {
		t.Error("healthy record was removed by cleanup")
	}
}

func TestPullRequestItem_IsCurrent(t *testing.T) {
	asanaFake := newFakeAsana()
	asanaFake.tasks["g1"] = &asana.Task{GID: "g1", ModifiedAt: "2025-01-01T00:00:00Z"}
	app := newTestApp(t)
	app.Asana = asanaFake

	item := &PullRequestItem{
		ADOPRID:      1,
		Title:        "Add caching",
		Status:       PRStatusActive,
		AsanaGID:     "g1",
		AsanaUpdated: "2025-01-01T00:00:00Z",
		ReviewStatus: VoteNoVote,
	}
	live := &ado.PullRequest{PullRequestID: 1, Title: "Add caching", Status: PRStatusActive}
	reviewer := &ado.Reviewer{Vote: float64(0)}

	if !item.IsCurrent(app, live, reviewer) {
		t.Error("IsCurrent() = false for matching state")
	}
	if item.IsCurrent(app, nil, reviewer) {
		t.Error("IsCurrent() = true for a nil live PR")
	}

	live.Title = "Renamed"
	if item.IsCurrent(app, live, reviewer) {
		t.Error("IsCurrent() = true despite title drift")
	}
	live.Title = "Add caching"

	reviewer.Vote = float64(10)
	if item.IsCurrent(app, live, reviewer) {
		t.Error("IsCurrent() = true despite vote drift")
	}
}
