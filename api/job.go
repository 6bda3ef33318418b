package api

// Job kinds accepted by the grading queue.
const (
	JobKindAnswer  = "answer"
	JobKindSnippet = "snippet"
)

// Job is the payload placed on the grading queue. It carries everything a
// worker needs to grade one submission; workers keep no state between jobs.
type Job struct {
	JobUuid string `json:"job_uuid"`
	Kind    string `json:"kind"`

	// Checker and PreCheck are empty for snippet jobs.
	Checker    string `json:"checker,omitempty"`
	PreCheck   string `json:"pre_check,omitempty"`
	SourceCode string `json:"source_code"`
	Locale     string `json:"locale"`

	// Correlation with the persistent store and the push channel.
	AnswerID   int64 `json:"answer_id,omitempty"`
	SnippetID  int64 `json:"snippet_id,omitempty"`
	UserID     int64 `json:"user_id"`
	ExerciseID int64 `json:"exercise_id,omitempty"`

	// ReplySubject is where the worker publishes the Result.
	ReplySubject string `json:"reply_subject"`
}
