package syncer

import (
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/asana"
)

// Canonical reviewer vote values.
const (
	VoteApproved                = "approved"
	VoteApprovedWithSuggestions = "approvedWithSuggestions"
	VoteNoVote                  = "noVote"
	VoteWaitingForAuthor        = "waitingForAuthor"
	VoteRejected                = "rejected"
	VoteRemoved                 = "removed"
)

// voteCodes maps the ADO integer vote codes to canonical strings.
var voteCodes = map[int]string{
	10:  VoteApproved,
	5:   VoteApprovedWithSuggestions,
	0:   VoteNoVote,
	-5:  VoteWaitingForAuthor,
	-10: VoteRejected,
}

// ExtractReviewerVote normalizes a reviewer's vote to a canonical string.
// The API reports votes as integer codes but older payloads carry strings.
// A nil reviewer, a missing vote or an undecodable value all yield noVote;
// unrecognized integers stringify as-is. Never fails.
func ExtractReviewerVote(reviewer *ado.Reviewer) string {
	if reviewer == nil {
		return VoteNoVote
	}
	switch v := reviewer.Vote.(type) {
	case nil:
		return VoteNoVote
	case string:
		if v == "" {
			return VoteNoVote
		}
		return v
	case float64:
		// JSON numbers decode as float64.
		if s, ok := voteCodes[int(v)]; ok {
			return s
		}
		return strconv.Itoa(int(v))
	case int:
		if s, ok := voteCodes[v]; ok {
			return s
		}
		return strconv.Itoa(v)
	default:
		log.WithField("vote", reviewer.Vote).Debug("unrecognized reviewer vote type")
		return VoteNoVote
	}
}

// ReviewerIdentity is the canonical normalized record for a reviewer,
// extracted from whichever attribute spelling the payload used.
type ReviewerIdentity struct {
	DisplayName string
	Email       string
}

// reviewerIdentity extracts display name and email from a reviewer, trying
// the top-level fields first and falling back to the nested user record.
// Returns ok=false when either is missing; callers treat that as
// "unextractable" rather than an error.
func reviewerIdentity(reviewer *ado.Reviewer) (ReviewerIdentity, bool) {
	if reviewer == nil {
		return ReviewerIdentity{}, false
	}
	name := reviewer.DisplayName
	email := reviewer.UniqueName
	if reviewer.User != nil {
		if name == "" {
			name = reviewer.User.DisplayName
		}
		if email == "" {
			email = reviewer.User.UniqueName
		}
	}
	if name == "" || email == "" {
		log.WithFields(log.Fields{"display_name": name, "email": email}).Warn("incomplete reviewer info")
		return ReviewerIdentity{}, false
	}
	return ReviewerIdentity{DisplayName: name, Email: email}, true
}

// matchingUser finds the Asana user matching an ADO identity by email or,
// failing that, by display name. Returns nil when no user matches.
func matchingUser(users []asana.User, identity ReviewerIdentity) *asana.User {
	for i := range users {
		if users[i].Email == identity.Email || users[i].Name == identity.DisplayName {
			return &users[i]
		}
	}
	return nil
}

// findTaskByName returns the task with the exact given name from the list,
// or nil if absent. Task adoption by name relies on titles being formatted
// identically on every pass.
func findTaskByName(tasks []asana.Task, name string) *asana.Task {
	for i := range tasks {
		if tasks[i].Name == name {
			return &tasks[i]
		}
	}
	return nil
}

// iso8601UTC renders a timestamp in ISO-8601 with the UTC offset. Naive
// comparison of these strings against stored values drives staleness
// checks, so the format must be stable.
func iso8601UTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// nowUTC returns the current time formatted with iso8601UTC.
func nowUTC() string {
	return iso8601UTC(time.Now())
}
