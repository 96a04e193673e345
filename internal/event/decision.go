package event

// Action is a module verdict.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionDeny      Action = "deny"
	ActionModify    Action = "modify"
	ActionChallenge Action = "challenge"
	ActionAlert     Action = "alert"
)

// Severity grades a decision for alerting and audit.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Channel names an approval delivery channel.
type Channel string

const (
	ChannelOrchestrator Channel = "orchestrator"
	ChannelTelegram     Channel = "telegram"
	ChannelDiscord      Channel = "discord"
	ChannelHTTP         Channel = "http"
)

// Challenge asks a human to resolve a decision through an external channel.
type Challenge struct {
	Channel        Channel `json:"channel"`
	Prompt         string  `json:"prompt"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// Patch carries the transforms a modify decision wants applied. Nil fields
// leave the corresponding slot untouched.
type Patch struct {
	RequestText    *string                `json:"request_text,omitempty"`
	ToolArguments  map[string]interface{} `json:"tool_arguments,omitempty"`
	ToolResultText *string                `json:"tool_result_text,omitempty"`
	ResponseText   *string                `json:"response_text,omitempty"`
}

// Decision is the single output of one module evaluation.
type Decision struct {
	Action    Action     `json:"action"`
	Module    string     `json:"module"`
	Reason    string     `json:"reason"`
	Severity  Severity   `json:"severity"`
	Patch     *Patch     `json:"patch,omitempty"`
	Challenge *Challenge `json:"challenge,omitempty"`
}

// Allow builds an allow decision.
func Allow(module, reason string) Decision {
	return Decision{Action: ActionAllow, Module: module, Reason: reason, Severity: SeverityInfo}
}

// Deny builds a deny decision.
func Deny(module, reason string, sev Severity) Decision {
	return Decision{Action: ActionDeny, Module: module, Reason: reason, Severity: sev}
}

// Alert builds an alert decision.
func Alert(module, reason string, sev Severity) Decision {
	return Decision{Action: ActionAlert, Module: module, Reason: reason, Severity: sev}
}

// Modify builds a modify decision carrying the given patch.
func Modify(module, reason string, p *Patch) Decision {
	return Decision{Action: ActionModify, Module: module, Reason: reason, Severity: SeverityInfo, Patch: p}
}

// NewChallenge builds a challenge decision.
func NewChallenge(module, reason string, ch *Challenge) Decision {
	return Decision{Action: ActionChallenge, Module: module, Reason: reason, Severity: SeverityMedium, Challenge: ch}
}

// Transforms accumulates composed modify patches across a pipeline run.
// Scalar slots are last-writer-wins; ToolArguments is deep-merged.
type Transforms struct {
	RequestText    *string                `json:"request_text,omitempty"`
	ToolArguments  map[string]interface{} `json:"tool_arguments,omitempty"`
	ToolResultText *string                `json:"tool_result_text,omitempty"`
	ResponseText   *string                `json:"response_text,omitempty"`
}

// Empty reports whether no transform has been recorded.
func (t *Transforms) Empty() bool {
	return t.RequestText == nil && t.ToolArguments == nil && t.ToolResultText == nil && t.ResponseText == nil
}

// PipelineResult is the final outcome of evaluating one event.
type PipelineResult struct {
	Action     Action     `json:"action"`
	Reason     string     `json:"reason"`
	Transforms Transforms `json:"transforms"`
	Alerts     []string   `json:"alerts,omitempty"`
	Decisions  []Decision `json:"decisions,omitempty"`
}

// Terminal returns the decision that ended the pipeline, or nil for plain
// allows.
func (r *PipelineResult) Terminal() *Decision {
	if len(r.Decisions) == 0 {
		return nil
	}
	last := &r.Decisions[len(r.Decisions)-1]
	if last.Action == ActionDeny || last.Action == ActionChallenge {
		return last
	}
	return nil
}
