package appdata

import (
	"testing"
)

func TestReplaceProjects_RoundTrip(t *testing.T) {
	store := openTestStore(t)

	projects := []ProjectMapping{
		{ADOProjectName: "ProjB", ADOTeamName: "Team1", AsanaProjectName: "AsanaB"},
		{ADOProjectName: "ProjA", ADOTeamName: "Team2", AsanaProjectName: "AsanaA2"},
		{ADOProjectName: "ProjA", ADOTeamName: "Team1", AsanaProjectName: "AsanaA1"},
	}
	if err := store.ReplaceProjects(projects); err != nil {
		t.Fatalf("ReplaceProjects() error = %v", err)
	}

	got, err := store.Projects()
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Projects() returned %d rows, want 3", len(got))
	}
	// Ordered by project then team.
	want := []ProjectMapping{projects[2], projects[1], projects[0]}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Projects()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReplaceProjects_ReplacesPreviousSet(t *testing.T) {
	store := openTestStore(t)

	first := []ProjectMapping{{ADOProjectName: "Old", ADOTeamName: "Team", AsanaProjectName: "X"}}
	if err := store.ReplaceProjects(first); err != nil {
		t.Fatalf("ReplaceProjects() error = %v", err)
	}
	second := []ProjectMapping{{ADOProjectName: "New", ADOTeamName: "Team", AsanaProjectName: "Y"}}
	if err := store.ReplaceProjects(second); err != nil {
		t.Fatalf("ReplaceProjects() error = %v", err)
	}

	got, err := store.Projects()
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	if len(got) != 1 || got[0].ADOProjectName != "New" {
		t.Errorf("Projects() = %+v, want only the New mapping", got)
	}
}

func TestReplaceProjects_DuplicatePairPropagatesError(t *testing.T) {
	store := openTestStore(t)

	dup := []ProjectMapping{
		{ADOProjectName: "ProjA", ADOTeamName: "Team1", AsanaProjectName: "X"},
		{ADOProjectName: "ProjA", ADOTeamName: "Team1", AsanaProjectName: "Y"},
	}
	if err := store.ReplaceProjects(dup); err == nil {
		t.Error("ReplaceProjects() with duplicate (project, team) pair should error")
	}
}

func TestReplaceProjects_EmptySetClearsTable(t *testing.T) {
	store := openTestStore(t)

	if err := store.ReplaceProjects([]ProjectMapping{
		{ADOProjectName: "ProjA", ADOTeamName: "Team1", AsanaProjectName: "X"},
	}); err != nil {
		t.Fatalf("ReplaceProjects() error = %v", err)
	}
	if err := store.ReplaceProjects(nil); err != nil {
		t.Fatalf("ReplaceProjects(nil) error = %v", err)
	}

	count, err := store.ProjectCount()
	if err != nil {
		t.Fatalf("ProjectCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("ProjectCount() = %d, want 0", count)
	}
}
