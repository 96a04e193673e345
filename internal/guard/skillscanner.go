package guard

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/radiusguard/radius/internal/event"
)

// skillScannerConfig configures the skill_scanner module.
type skillScannerConfig struct {
	EnforceKinds        []string `yaml:"enforceKinds"`
	RequireSignature    bool     `yaml:"requireSignature"`
	TrustedSigners      []string `yaml:"trustedSigners"`
	RequireSbom         bool     `yaml:"requireSbom"`
	RequirePinnedSource bool     `yaml:"requirePinnedSource"`
	OnFailure           string   `yaml:"onFailure"` // deny, challenge, alert
	MinBase64Length     int      `yaml:"minBase64Length"`
	BlockedDomains      []string `yaml:"blockedDomains"`
	ChallengeChannel    string   `yaml:"challengeChannel"`
	ChallengeTimeoutSec int      `yaml:"challengeTimeoutSec"`
}

// finding is one scanner hit.
type finding struct {
	name     string
	severity event.Severity
}

var (
	htmlCommentRe = regexp.MustCompile(`<!--[\s\S]*?-->`)
	zeroWidthRe   = regexp.MustCompile("[\u200B\u200C\u200D\uFEFF]")
	decodeExecRe  = regexp.MustCompile(`(?i)(base64\s+(-d|--decode)[^|;&]*\|\s*(ba|z)?sh|eval\s*\(\s*atob|exec\s*\(\s*base64|atob\s*\([^)]*\)\s*\)?\s*;?\s*eval|echo\s+[A-Za-z0-9+/=]{16,}\s*\|\s*base64)`)
	ipv4URLRe     = regexp.MustCompile(`https?://(?:\d{1,3}\.){3}\d{1,3}`)
	punycodeRe    = regexp.MustCompile(`(?i)https?://[^\s/]*xn--`)
	shortenerRe   = regexp.MustCompile(`(?i)https?://(?:bit\.ly|tinyurl\.com|t\.co|goo\.gl|is\.gd|ow\.ly|cutt\.ly)/`)

	exfilMarkers  = []string{".env", ".ssh", ".aws", "api_key", "token", "secret", "password"}
	exfilChannels = []string{"curl", "wget", "fetch", "http", "webhook"}

	takeoverPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
		regexp.MustCompile(`(?i)\bdisregard\s+(all\s+)?(previous|prior|safety)`),
		regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak|unrestricted)`),
		regexp.MustCompile(`(?i)\bnew\s+system\s+prompt\s*:`),
		regexp.MustCompile(`(?i)\bforget\s+(all\s+)?(your\s+)?rules\b`),
	}

	// floatingRefs are source-URI suffixes that indicate an unpinned version.
	floatingRefs = []string{"latest", "main", "master", "head"}
)

// SkillScanner vets artifacts before installation: provenance policy first,
// then static content analysis for injection and exfiltration patterns. At
// pre_request the same content scan runs over the incoming request text.
type SkillScanner struct {
	base
	cfg          skillScannerConfig
	enforceKinds map[string]bool
	base64Re     *regexp.Regexp
	logger       *slog.Logger
}

// NewSkillScanner builds the module; the base64 detector is sized from
// config and compiled once.
func NewSkillScanner(cfg map[string]interface{}, logger *slog.Logger) (*SkillScanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c skillScannerConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.OnFailure == "" {
		c.OnFailure = "deny"
	}
	switch c.OnFailure {
	case "deny", "challenge", "alert":
	default:
		return nil, fmt.Errorf("skill_scanner onFailure must be deny, challenge, or alert, got %q", c.OnFailure)
	}
	if c.MinBase64Length <= 0 {
		c.MinBase64Length = 40
	}
	if c.ChallengeTimeoutSec <= 0 {
		c.ChallengeTimeoutSec = 120
	}
	kinds := c.EnforceKinds
	if len(kinds) == 0 {
		kinds = []string{string(event.ArtifactSkill)}
	}

	return &SkillScanner{
		base:         newBase("skill_scanner", []event.Phase{event.PhasePreLoad, event.PhasePreRequest}, cfg),
		cfg:          c,
		enforceKinds: toStringSet(kinds),
		base64Re:     regexp.MustCompile(fmt.Sprintf(`[A-Za-z0-9+/]{%d,}={0,2}`, c.MinBase64Length)),
		logger:       logger.With("component", "guard.SkillScanner"),
	}, nil
}

// Evaluate implements pipeline.Module.
func (g *SkillScanner) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	switch ev.Phase {
	case event.PhasePreLoad:
		if ev.Artifact == nil {
			return event.Allow(g.name, "no artifact"), nil
		}
		return g.evaluateArtifact(ev.Artifact), nil
	default:
		if ev.RequestText == "" {
			return event.Allow(g.name, "no request text"), nil
		}
		findings := g.scanContent(ev.RequestText)
		return g.verdict(findings, "request text"), nil
	}
}

// evaluateArtifact applies provenance policy, then the content scan.
func (g *SkillScanner) evaluateArtifact(a *event.Artifact) event.Decision {
	if g.enforceKinds[string(a.Kind)] {
		if prov := g.provenanceFindings(a); len(prov) > 0 {
			return g.fail(describeFindings(prov), "artifact provenance")
		}
	}
	findings := g.scanContent(a.Content)
	return g.verdict(findings, fmt.Sprintf("%s artifact", a.Kind))
}

// provenanceFindings checks the supply-chain policy against an artifact.
func (g *SkillScanner) provenanceFindings(a *event.Artifact) []finding {
	var out []finding

	if g.cfg.RequireSignature && !a.SignatureVerified {
		out = append(out, finding{"missing_signature", event.SeverityCritical})
	}
	if len(g.cfg.TrustedSigners) > 0 {
		if a.Signer == "" {
			out = append(out, finding{"missing_signer_identity", event.SeverityHigh})
		} else if !toStringSet(g.cfg.TrustedSigners)[a.Signer] {
			out = append(out, finding{"untrusted_signer", event.SeverityCritical})
		}
	}
	if g.cfg.RequireSbom && a.SBOMURI == "" {
		out = append(out, finding{"missing_sbom", event.SeverityHigh})
	}
	if g.cfg.RequirePinnedSource && !a.VersionPinned {
		name := "unpinned_source"
		lower := strings.ToLower(strings.TrimRight(a.SourceURI, "/"))
		for _, ref := range floatingRefs {
			if strings.HasSuffix(lower, ref) {
				name = "floating_version_reference"
				break
			}
		}
		out = append(out, finding{name, event.SeverityHigh})
	}

	return out
}

// scanContent runs the static analysis pattern set over content.
func (g *SkillScanner) scanContent(content string) []finding {
	if content == "" {
		return nil
	}
	var out []finding

	if htmlCommentRe.MatchString(content) {
		out = append(out, finding{"html_comment_injection", event.SeverityHigh})
	}
	if zeroWidthRe.MatchString(content) {
		out = append(out, finding{"zero_width_characters", event.SeverityHigh})
	}
	if g.base64Re.MatchString(content) {
		out = append(out, finding{"base64_blob", event.SeverityMedium})
	}
	if decodeExecRe.MatchString(content) {
		out = append(out, finding{"decode_exec", event.SeverityCritical})
	}
	if hasExfilPair(content) {
		out = append(out, finding{"exfiltration_pattern", event.SeverityCritical})
	}
	if ipv4URLRe.MatchString(content) || punycodeRe.MatchString(content) || shortenerRe.MatchString(content) {
		out = append(out, finding{"suspicious_url", event.SeverityHigh})
	}
	lower := strings.ToLower(content)
	for _, d := range g.cfg.BlockedDomains {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			out = append(out, finding{"blocked_domain", event.SeverityHigh})
			break
		}
	}
	for _, re := range takeoverPhrases {
		if re.MatchString(content) {
			out = append(out, finding{"instruction_takeover", event.SeverityCritical})
			break
		}
	}

	return out
}

// verdict maps content findings to a decision: criticals go through the
// failure policy, anything else alerts.
func (g *SkillScanner) verdict(findings []finding, what string) event.Decision {
	if len(findings) == 0 {
		return event.Allow(g.name, "no suspicious content")
	}
	for _, f := range findings {
		if f.severity == event.SeverityCritical {
			return g.fail(describeFindings(findings), what)
		}
	}
	return event.Alert(g.name,
		fmt.Sprintf("suspicious content in %s: %s", what, describeFindings(findings)),
		event.SeverityHigh)
}

// fail applies the configured failure policy.
func (g *SkillScanner) fail(details, what string) event.Decision {
	reason := fmt.Sprintf("%s rejected: %s", what, details)
	switch g.cfg.OnFailure {
	case "alert":
		return event.Alert(g.name, reason, event.SeverityCritical)
	case "challenge":
		ch := &event.Challenge{
			Channel:        event.Channel(g.cfg.ChallengeChannel),
			Prompt:         fmt.Sprintf("Allow flagged %s? Findings: %s", what, details),
			TimeoutSeconds: g.cfg.ChallengeTimeoutSec,
		}
		return event.NewChallenge(g.name, reason, ch)
	default:
		return event.Deny(g.name, reason, event.SeverityCritical)
	}
}

// hasExfilPair reports whether a sensitive marker and an egress channel
// occur within 100 characters of each other, in either order.
func hasExfilPair(content string) bool {
	lower := strings.ToLower(content)
	for _, m := range exfilMarkers {
		for _, mi := range allIndexes(lower, m) {
			for _, c := range exfilChannels {
				for _, ci := range allIndexes(lower, c) {
					d := ci - mi
					if d < 0 {
						d = -d
					}
					if d <= 100 {
						return true
					}
				}
			}
		}
	}
	return false
}

func allIndexes(s, sub string) []int {
	var out []int
	for from := 0; ; {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			return out
		}
		out = append(out, from+i)
		from += i + 1
	}
}

func describeFindings(findings []finding) string {
	names := make([]string, len(findings))
	for i, f := range findings {
		names[i] = f.name
	}
	return strings.Join(names, ", ")
}
