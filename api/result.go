package api

// Outcome classifies how a grading run terminated. Only OutcomeChecked means
// the checker itself got to decide; the rest are failure modes of the run.
type Outcome string

const (
	OutcomeChecked        Outcome = "checked"
	OutcomeWallTimeout    Outcome = "wall_timeout"
	OutcomeSandboxTimeout Outcome = "sandbox_timeout"
	OutcomeNoMemory       Outcome = "no_memory"
	OutcomeInternalError  Outcome = "internal_error"
)

// Result is the worker's answer to one Job, published on the job's reply
// subject. Message is always safe to render: scratch paths are redacted, NUL
// bytes escaped, and the text capped at 64 KiB.
type Result struct {
	JobUuid string  `json:"job_uuid"`
	Verdict bool    `json:"verdict"`
	Message string  `json:"message"`
	Outcome Outcome `json:"outcome"`

	WallMillis int64 `json:"wall_millis"`
}
