package api

// Inbound message types recognized from a client session.
const (
	MsgTypeAnswer    = "answer"
	MsgTypeRecorrect = "recorrect"
	MsgTypeSnippet   = "snippet"
	MsgTypeSettings  = "settings"
)

// SessionMsg is the envelope for inbound session messages. Exactly the fields
// relevant to the given Type are set.
type SessionMsg struct {
	Type       string `json:"type"`
	SourceCode string `json:"source_code,omitempty"` // answer, snippet
	ID         int64  `json:"id,omitempty"`          // recorrect
	Value      string `json:"value,omitempty"`       // settings (session locale)
}
