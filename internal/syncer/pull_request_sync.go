package syncer

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/appdata"
	"github.com/danstis/ado-asana-sync/internal/asana"
)

// SyncPullRequests reconciles reviewer tasks for every repository of the
// project: active pull requests first, then the closed-PR pass over rows
// whose PR is no longer active.
func (a *App) SyncPullRequests(ctx *projectContext) error {
	if a.Git == nil {
		log.Debug("no git client configured, skipping pull request sync")
		return nil
	}

	repos, err := a.Git.GetRepositories(ctx.adoProject.ID)
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}
	for _, repo := range repos {
		if err := a.processRepositoryPullRequests(ctx, repo); err != nil {
			log.WithError(err).WithField("repository", repo.Name).Error("repository PR sync failed")
		}
	}
	return a.ProcessClosedPullRequests(ctx)
}

func (a *App) processRepositoryPullRequests(ctx *projectContext, repo ado.Repository) error {
	prs, err := a.Git.GetActivePullRequests(repo.ID)
	if err != nil {
		return fmt.Errorf("failed to list active pull requests: %w", err)
	}
	log.WithFields(log.Fields{"repository": repo.Name, "count": len(prs)}).Debug("processing active pull requests")

	for i := range prs {
		if err := a.processPullRequest(ctx, repo, &prs[i]); err != nil {
			log.WithError(err).WithField("ado_pr_id", prs[i].PullRequestID).Error("failed to process pull request")
		}
	}
	return nil
}

func (a *App) processPullRequest(ctx *projectContext, repo ado.Repository, pr *ado.PullRequest) error {
	reviewers, err := a.Git.GetPullRequestReviewers(repo.ID, pr.PullRequestID)
	if err != nil {
		return fmt.Errorf("failed to list reviewers: %w", err)
	}

	// The API can list the same person twice when they are both an
	// individual and a group reviewer. Keep the first occurrence.
	seen := make(map[string]bool, len(reviewers))
	deduped := reviewers[:0]
	for i := range reviewers {
		identity, ok := reviewerIdentity(&reviewers[i])
		if !ok {
			continue
		}
		if seen[identity.Email] {
			continue
		}
		seen[identity.Email] = true
		deduped = append(deduped, reviewers[i])
	}

	a.handleRemovedReviewers(ctx, pr, deduped)

	for i := range deduped {
		if err := a.processPRReviewer(ctx, repo, pr, &deduped[i]); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"ado_pr_id": pr.PullRequestID,
				"reviewer":  deduped[i].DisplayName,
			}).Error("failed to process PR reviewer")
		}
	}
	return nil
}

// handleRemovedReviewers finds stored rows for this PR whose reviewer no
// longer appears on it, marks them reviewer_removed with a removed vote, and
// completes the linked Asana task.
func (a *App) handleRemovedReviewers(ctx *projectContext, pr *ado.PullRequest, reviewers []ado.Reviewer) {
	if a.PRMatches == nil {
		return
	}

	currentGIDs := make(map[string]bool, len(reviewers))
	for i := range reviewers {
		identity, ok := reviewerIdentity(&reviewers[i])
		if !ok {
			continue
		}
		if user := matchingUser(ctx.users, identity); user != nil {
			currentGIDs[user.GID] = true
		}
	}

	docs, err := a.PRMatches.Search(func(doc appdata.Document) bool {
		id, _ := doc.Int("ado_pr_id")
		return id == int64(pr.PullRequestID)
	})
	if err != nil {
		log.WithError(err).Warn("failed to scan PR rows for removed reviewers")
		return
	}

	for _, doc := range docs {
		item, err := prItemFromDoc(doc)
		if err != nil || currentGIDs[item.ReviewerGID] {
			continue
		}
		if item.Status == PRStatusReviewerRemoved {
			continue
		}
		log.WithFields(log.Fields{
			"ado_pr_id": item.ADOPRID,
			"reviewer":  item.ReviewerName,
		}).Info("reviewer removed from pull request, completing task")

		item.Status = PRStatusReviewerRemoved
		item.ReviewStatus = VoteRemoved
		item.UpdatedDate = nowUTC()
		if err := a.updateAsanaPRTask(item); err != nil {
			log.WithError(err).Warn("failed to complete task for removed reviewer")
		}
		if err := item.Save(a); err != nil {
			log.WithError(err).Error("failed to save removed-reviewer state")
		}
	}
}

func (a *App) processPRReviewer(ctx *projectContext, repo ado.Repository, pr *ado.PullRequest, reviewer *ado.Reviewer) error {
	identity, ok := reviewerIdentity(reviewer)
	if !ok {
		return nil
	}
	user := matchingUser(ctx.users, identity)
	if user == nil {
		log.WithFields(log.Fields{"ado_pr_id": pr.PullRequestID, "reviewer": identity.Email}).Debug("reviewer has no asana account, skipping")
		return nil
	}

	existing := SearchPR(a, pr.PullRequestID, user.GID, "")
	if existing == nil {
		return a.createNewPRReviewerTask(ctx, repo, pr, reviewer, user)
	}
	return a.updateExistingPRReviewerTask(pr, reviewer, existing)
}

func (a *App) createNewPRReviewerTask(ctx *projectContext, repo ado.Repository, pr *ado.PullRequest, reviewer *ado.Reviewer, user *asana.User) error {
	identity, _ := reviewerIdentity(reviewer)
	item := NewPullRequestItem(PullRequestItem{
		ADOPRID:         pr.PullRequestID,
		ADORepositoryID: repo.ID,
		Title:           pr.Title,
		Status:          pr.Status,
		URL:             pr.WebURL,
		ReviewerGID:     user.GID,
		ReviewerName:    identity.DisplayName,
		ReviewStatus:    ExtractReviewerVote(reviewer),
		CreatedDate:     nowUTC(),
		UpdatedDate:     nowUTC(),
	})
	if !item.ValidateDataConsistency() {
		return fmt.Errorf("inconsistent PR data for PR %d, not creating task", pr.PullRequestID)
	}

	var task *asana.Task
	var err error
	if adopted := findTaskByName(ctx.projectTasks, item.AsanaTitle()); adopted != nil {
		log.WithFields(log.Fields{"ado_pr_id": item.ADOPRID, "asana_gid": adopted.GID}).Info("adopting existing asana task by name")
		task, err = a.Asana.UpdateTask(adopted.GID, a.prTaskRequest(item))
	} else {
		req := a.prTaskRequest(item)
		req.Projects = []string{ctx.projectGID}
		req.Assignee = user.GID
		task, err = a.Asana.CreateTask(req)
	}
	if err != nil {
		return fmt.Errorf("failed to create asana task for PR reviewer: %w", err)
	}

	item.AsanaGID = task.GID
	item.AsanaUpdated = task.ModifiedAt
	a.tagTask(task.GID)

	a.publish("pr_task_created", map[string]any{"ado_pr_id": item.ADOPRID, "reviewer": item.ReviewerName})
	return item.Save(a)
}

func (a *App) updateExistingPRReviewerTask(pr *ado.PullRequest, reviewer *ado.Reviewer, item *PullRequestItem) error {
	if item.IsCurrent(a, pr, reviewer) {
		log.WithFields(log.Fields{"ado_pr_id": item.ADOPRID, "reviewer": item.ReviewerName}).Debug("PR reviewer task unchanged, skipping")
		return nil
	}

	item.Title = pr.Title
	item.Status = pr.Status
	item.URL = pr.WebURL
	item.ReviewStatus = ExtractReviewerVote(reviewer)
	item.UpdatedDate = nowUTC()

	if err := a.updateAsanaPRTask(item); err != nil {
		return err
	}
	a.publish("pr_task_updated", map[string]any{"ado_pr_id": item.ADOPRID, "reviewer": item.ReviewerName})
	return item.Save(a)
}

func (a *App) prTaskRequest(item *PullRequestItem) asana.TaskRequest {
	completed := item.ShouldBeCompleted()
	return asana.TaskRequest{
		Name:      item.AsanaTitle(),
		HTMLNotes: fmt.Sprintf("<body>%s</body>", item.AsanaNotesLink()),
		Completed: &completed,
	}
}

// updateAsanaPRTask pushes the item's current state to its linked Asana
// task and refreshes the stored modification timestamp.
func (a *App) updateAsanaPRTask(item *PullRequestItem) error {
	if item.AsanaGID == "" {
		return nil
	}
	task, err := a.Asana.UpdateTask(item.AsanaGID, a.prTaskRequest(item))
	if err != nil {
		return fmt.Errorf("failed to update asana task: %w", err)
	}
	item.AsanaUpdated = task.ModifiedAt
	a.tagTask(item.AsanaGID)
	return nil
}

// ProcessClosedPullRequests walks stored PR rows still marked open, fetches
// each one's live state, and closes out those that have completed, been
// abandoned or gone back to draft. Rows already in the closed processing
// state are skipped without touching the API, which keeps steady-state
// passes cheap once a PR is done.
func (a *App) ProcessClosedPullRequests(ctx *projectContext) error {
	if a.PRMatches == nil {
		return nil
	}

	docs, err := a.PRMatches.Search(func(doc appdata.Document) bool {
		return doc.Str("processing_state") != ProcessingClosed
	})
	if err != nil {
		return fmt.Errorf("failed to scan open PR rows: %w", err)
	}

	for _, doc := range docs {
		item, err := prItemFromDoc(doc)
		if err != nil {
			continue
		}
		if item.ADORepositoryID == "" {
			continue
		}

		live, err := a.Git.GetPullRequestByID(item.ADOPRID, item.ADORepositoryID)
		if err != nil {
			log.WithError(err).WithField("ado_pr_id", item.ADOPRID).Warn("failed to fetch pull request state")
			continue
		}

		if live == nil {
			// PR no longer exists upstream; close the task out.
			item.Status = PRStatusCompleted
		} else if live.Status == PRStatusActive {
			continue
		} else {
			item.Status = live.Status
			item.Title = live.Title
		}
		item.UpdatedDate = nowUTC()

		log.WithFields(log.Fields{"ado_pr_id": item.ADOPRID, "status": item.Status}).Info("closing out pull request task")
		if err := a.updateAsanaPRTask(item); err != nil {
			log.WithError(err).Warn("failed to complete task for closed PR")
		}
		if err := item.Save(a); err != nil {
			log.WithError(err).Error("failed to save closed PR state")
		}
	}
	return nil
}
