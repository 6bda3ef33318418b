package api

import "fmt"

// Push message types sent to client sessions.
const (
	PushTypeCorrection = "correction"
	PushTypeSnippet    = "snippet"
	PushTypeJobExpired = "job_expired"
)

// CorrectionPush notifies every open session of a user that an answer to an
// exercise has been corrected.
type CorrectionPush struct {
	Type              string `json:"type"`
	Exercise          int64  `json:"exercise"`
	Answer            int64  `json:"answer"`
	IsCorrected       bool   `json:"is_corrected"`
	IsValid           bool   `json:"is_valid"`
	CorrectionMessage string `json:"correction_message"`
	Rank              *int64 `json:"rank,omitempty"`
}

// SnippetPush carries the captured output of an ad-hoc snippet run.
type SnippetPush struct {
	Type    string `json:"type"`
	Snippet int64  `json:"snippet"`
	Output  string `json:"output"`
}

// JobExpiredPush tells the originating session that no result arrived within
// the wait expiry. The verdict is unknown, not rejected; the answer row stays
// uncorrected until a late result lands or an operator intervenes.
type JobExpiredPush struct {
	Type     string `json:"type"`
	Exercise int64  `json:"exercise,omitempty"`
	Answer   int64  `json:"answer,omitempty"`
	Snippet  int64  `json:"snippet,omitempty"`
}

// AnswerSubject scopes correction pushes to the sessions of one user on one
// exercise, so two users (or two exercises) never see each other's verdicts.
func AnswerSubject(userID, exerciseID int64) string {
	return fmt.Sprintf("answers.%d.%d", userID, exerciseID)
}

// SnippetSubject scopes snippet pushes to one user; snippets are not tied to
// an exercise.
func SnippetSubject(userID int64) string {
	return fmt.Sprintf("snippets.%d", userID)
}

// ResultSubject is the reply subject a submitter listens on for one job.
func ResultSubject(jobUuid string) string {
	return "grader.result." + jobUuid
}
