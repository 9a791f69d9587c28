package routing

// Action tells the voice webhook what TwiML to answer with.
type Action string

const (
	ActionConnect     Action = "connect"
	ActionUnavailable Action = "unavailable"
)

// Decision is the outcome of routing one shared-line call. AgentID is set
// only for ActionConnect; Reason is for logs and never shown to callers.
type Decision struct {
	Action  Action `json:"action"`
	AgentID string `json:"agent_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
