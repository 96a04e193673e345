// Package event defines the canonical event model shared by every policy
// module. Adapters project orchestrator-specific payloads into this shape;
// modules never see framework dialects.
package event

// Phase is the lifecycle point at which an event is evaluated.
type Phase string

const (
	PhasePreLoad     Phase = "pre_load"     // artifact about to be installed
	PhasePreRequest  Phase = "pre_request"  // user input arriving
	PhasePreTool     Phase = "pre_tool"     // tool call about to run
	PhasePostTool    Phase = "post_tool"    // tool result observed
	PhasePreResponse Phase = "pre_response" // text about to be returned
)

// AllPhases lists every phase in evaluation order.
var AllPhases = []Phase{PhasePreLoad, PhasePreRequest, PhasePreTool, PhasePostTool, PhasePreResponse}

// Framework identifies the orchestrator dialect an event arrived from.
type Framework string

const (
	FrameworkOpenClaw       Framework = "openclaw"
	FrameworkNanobot        Framework = "nanobot"
	FrameworkClaudeTelegram Framework = "claude-telegram"
	FrameworkGeneric        Framework = "generic"
)

// ToolCall describes a tool invocation about to run (pre_tool) or that just
// ran (post_tool). Arguments are semi-structured: values may be strings,
// numbers, booleans, nested maps, or slices.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Raw       map[string]interface{} `json:"raw,omitempty"`
}

// ToolResult carries the observed output of a completed tool call.
type ToolResult struct {
	Text    string                 `json:"text,omitempty"`
	IsError bool                   `json:"is_error,omitempty"`
	Raw     map[string]interface{} `json:"raw,omitempty"`
}

// ArtifactKind classifies an artifact arriving at pre_load.
type ArtifactKind string

const (
	ArtifactSkill        ArtifactKind = "skill"
	ArtifactPrompt       ArtifactKind = "prompt"
	ArtifactToolMetadata ArtifactKind = "tool_metadata"
	ArtifactConfig       ArtifactKind = "config"
)

// Artifact is a piece of installable content plus its provenance metadata.
type Artifact struct {
	Kind              ArtifactKind `json:"kind"`
	Content           string       `json:"content,omitempty"`
	SourceURI         string       `json:"source_uri,omitempty"`
	Hash              string       `json:"hash,omitempty"`
	SignatureVerified bool         `json:"signature_verified,omitempty"`
	Signer            string       `json:"signer,omitempty"`
	SBOMURI           string       `json:"sbom_uri,omitempty"`
	VersionPinned     bool         `json:"version_pinned,omitempty"`
}

// Event is the framework-independent projection of an orchestrator payload.
// It is treated as immutable once built; transforms are expressed as patches
// on the pipeline result, never as mutation of the event.
type Event struct {
	Phase       Phase                  `json:"phase"`
	Framework   Framework              `json:"framework"`
	SessionID   string                 `json:"session_id"`
	AgentName   string                 `json:"agent_name,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	RequestText string                 `json:"request_text,omitempty"`
	ToolCall    *ToolCall              `json:"tool_call,omitempty"`
	ToolResult  *ToolResult            `json:"tool_result,omitempty"`
	Response    string                 `json:"response,omitempty"`
	Artifact    *Artifact              `json:"artifact,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Canonical metadata keys surfaced by adapters for multi-agent routing.
const (
	MetaChannel  = "channel"
	MetaModeHint = "modeHint"
	MetaTaskType = "taskType"
	MetaTags     = "routeTags"
)

// ToolName returns the tool call name or "" when the event has no tool call.
func (e *Event) ToolName() string {
	if e.ToolCall == nil {
		return ""
	}
	return e.ToolCall.Name
}

// MetaString returns a string-typed metadata value, or "" when absent or not
// a string.
func (e *Event) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata[key].(string); ok {
		return s
	}
	return ""
}
