package guard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/radiusguard/radius/internal/event"
)

// egressGuardConfig configures the egress_guard module.
type egressGuardConfig struct {
	BlockedDomains []string                 `yaml:"blockedDomains"`
	BlockedIPs     []string                 `yaml:"blockedIPs"`
	BlockedPorts   []int                    `yaml:"blockedPorts"`
	AllowedDomains []string                 `yaml:"allowedDomains"`
	AllowedIPs     []string                 `yaml:"allowedIPs"`
	AllowedPorts   []int                    `yaml:"allowedPorts"`
	ToolBindings   map[string]egressBinding `yaml:"toolBindings"`
}

// egressBinding is a per-tool egress policy applied in addition to the
// global lists when mode is intersect.
type egressBinding struct {
	Mode           string   `yaml:"mode"` // intersect
	BlockedDomains []string `yaml:"blockedDomains"`
	BlockedIPs     []string `yaml:"blockedIPs"`
	BlockedPorts   []int    `yaml:"blockedPorts"`
	AllowedDomains []string `yaml:"allowedDomains"`
	AllowedIPs     []string `yaml:"allowedIPs"`
	AllowedPorts   []int    `yaml:"allowedPorts"`
}

// urlArgKeys and hostArgKeys are the argument names endpoints are read from.
var (
	urlArgKeys  = []string{"url", "uri", "endpoint", "api_url", "base_url", "webhook_url", "webhook"}
	hostArgKeys = []string{"host", "hostname", "domain", "address"}
)

// networkBinaries are the shell commands whose arguments are scanned for
// endpoints.
var networkBinaries = map[string]bool{
	"curl": true, "wget": true, "nc": true, "ncat": true, "ssh": true,
	"scp": true, "rsync": true, "ftp": true, "telnet": true,
}

var (
	cmdURLRe      = regexp.MustCompile(`https?://[^\s"']+`)
	hostPortRe    = regexp.MustCompile(`^([A-Za-z0-9._-]+):(\d{1,5})$`)
	userHostRe    = regexp.MustCompile(`^([A-Za-z0-9._-]+)@([A-Za-z0-9._-]+)(:.*)?$`)
	bareHostRe    = regexp.MustCompile(`^[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+$`)
)

// endpoint is one network destination extracted from a tool call.
type endpoint struct {
	Host   string
	Domain string
	IP     string
	Port   int // 0 when unknown
}

func (e endpoint) String() string {
	if e.Port > 0 {
		return fmt.Sprintf("%s:%d", e.Host, e.Port)
	}
	return e.Host
}

// EgressGuard restricts the network destinations a tool call may reach.
type EgressGuard struct {
	base
	cfg    egressGuardConfig
	logger *slog.Logger
}

// NewEgressGuard builds the module. derivedBindings, usually taken from
// tool_policy rule egress blocks, fill in bindings not configured directly
// (first rule per tool wins, direct config wins over derived).
func NewEgressGuard(cfg map[string]interface{}, derivedBindings map[string]map[string]interface{}, logger *slog.Logger) (*EgressGuard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c egressGuardConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.ToolBindings == nil {
		c.ToolBindings = map[string]egressBinding{}
	}
	for tool, raw := range derivedBindings {
		if _, exists := c.ToolBindings[tool]; exists || raw == nil {
			continue
		}
		var b egressBinding
		if err := decodeConfig(raw, &b); err != nil {
			return nil, fmt.Errorf("egress_guard: bad derived binding for %q: %w", tool, err)
		}
		if b.Mode == "" {
			b.Mode = "intersect"
		}
		c.ToolBindings[tool] = b
	}

	return &EgressGuard{
		base:   newBase("egress_guard", []event.Phase{event.PhasePreTool}, cfg),
		cfg:    c,
		logger: logger.With("component", "guard.EgressGuard"),
	}, nil
}

// Evaluate implements pipeline.Module.
func (g *EgressGuard) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil {
		return event.Allow(g.name, "no tool call"), nil
	}

	endpoints := extractEndpoints(ev.ToolCall)
	binding, hasBinding := g.cfg.ToolBindings[ev.ToolCall.Name]
	intersect := hasBinding && binding.Mode == "intersect"

	if len(endpoints) == 0 {
		if intersect {
			return event.Deny(g.name,
				fmt.Sprintf("endpoint could not be determined for tool %q with egress binding", ev.ToolCall.Name),
				event.SeverityHigh), nil
		}
		return event.Allow(g.name, "no network endpoints"), nil
	}

	for _, ep := range endpoints {
		if reason := blockedReason(ep, g.cfg.BlockedDomains, g.cfg.BlockedIPs, g.cfg.BlockedPorts); reason != "" {
			return event.Deny(g.name, reason, event.SeverityHigh), nil
		}
		if intersect {
			if reason := blockedReason(ep, binding.BlockedDomains, binding.BlockedIPs, binding.BlockedPorts); reason != "" {
				return event.Deny(g.name, fmt.Sprintf("tool binding: %s", reason), event.SeverityHigh), nil
			}
		}

		if reason := allowlistViolation(ep, g.cfg.AllowedDomains, g.cfg.AllowedIPs, g.cfg.AllowedPorts); reason != "" {
			return event.Deny(g.name, reason, event.SeverityHigh), nil
		}
		if intersect {
			if reason := allowlistViolation(ep, binding.AllowedDomains, binding.AllowedIPs, binding.AllowedPorts); reason != "" {
				return event.Deny(g.name, fmt.Sprintf("tool binding: %s", reason), event.SeverityHigh), nil
			}
		}
	}

	return event.Allow(g.name, "endpoints permitted"), nil
}

// blockedReason checks an endpoint against blocklists. Empty string means
// not blocked.
func blockedReason(ep endpoint, domains, ips []string, ports []int) string {
	for _, d := range domains {
		if hostMatchesDomain(ep.Host, d) {
			return fmt.Sprintf("endpoint %s matches blocked domain %q", ep, d)
		}
	}
	if ep.IP != "" {
		for _, ip := range ips {
			if ep.IP == ip {
				return fmt.Sprintf("endpoint %s matches blocked IP %q", ep, ip)
			}
		}
	}
	if ep.Port > 0 {
		for _, p := range ports {
			if ep.Port == p {
				return fmt.Sprintf("endpoint %s uses blocked port %d", ep, p)
			}
		}
	}
	return ""
}

// allowlistViolation enforces allow lists: when any domain/IP allowlist is
// configured the endpoint host must match one entry; when a port allowlist
// is configured the port must be known and listed.
func allowlistViolation(ep endpoint, domains, ips []string, ports []int) string {
	if len(domains) > 0 || len(ips) > 0 {
		matched := false
		for _, d := range domains {
			if hostMatchesDomain(ep.Host, d) {
				matched = true
				break
			}
		}
		if !matched && ep.IP != "" {
			for _, ip := range ips {
				if ep.IP == ip {
					matched = true
					break
				}
			}
		}
		if !matched {
			return fmt.Sprintf("endpoint %s is not in the egress allowlist", ep)
		}
	}

	if len(ports) > 0 {
		if ep.Port == 0 {
			return fmt.Sprintf("endpoint %s has no determinable port but a port allowlist is configured", ep)
		}
		for _, p := range ports {
			if ep.Port == p {
				return ""
			}
		}
		return fmt.Sprintf("endpoint %s uses port %d outside the allowlist", ep, ep.Port)
	}
	return ""
}

// hostMatchesDomain matches direct, subdomain-suffix, and wildcard forms.
// "*.base" matches subdomains of base but not base itself.
func hostMatchesDomain(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		return host != rest && strings.HasSuffix(host, "."+rest)
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// extractEndpoints pulls every determinable network destination out of a
// tool call.
func extractEndpoints(tc *event.ToolCall) []endpoint {
	var out []endpoint
	args := tc.Arguments

	for _, key := range urlArgKeys {
		if s, ok := args[key].(string); ok && s != "" {
			if ep, ok := endpointFromURL(s); ok {
				out = append(out, ep)
			}
		}
	}

	for _, key := range hostArgKeys {
		s, ok := args[key].(string)
		if !ok || s == "" {
			continue
		}
		ep := newEndpoint(s, 0)
		if p, ok := asFloat(args["port"]); ok && p > 0 {
			ep.Port = int(p)
		}
		out = append(out, ep)
	}

	if command := stringArg(args, "command"); command != "" {
		out = append(out, endpointsFromCommand(command)...)
	}

	return out
}

// endpointsFromCommand scans shell command segments that invoke a network
// binary for URLs and host-style tokens.
func endpointsFromCommand(command string) []endpoint {
	var out []endpoint
	for _, segment := range segmentSplitRe.Split(command, -1) {
		fields := strings.Fields(strings.TrimSpace(segment))
		if len(fields) == 0 || !networkBinaries[fields[0]] {
			continue
		}

		var portHint int
		for i := 1; i < len(fields); i++ {
			tok := fields[i]

			if tok == "-p" && i+1 < len(fields) {
				if p, err := strconv.Atoi(fields[i+1]); err == nil {
					portHint = p
				}
				continue
			}
			if strings.HasPrefix(tok, "-") {
				continue
			}

			if u := cmdURLRe.FindString(tok); u != "" {
				if ep, ok := endpointFromURL(u); ok {
					out = append(out, ep)
				}
				continue
			}
			if m := hostPortRe.FindStringSubmatch(tok); m != nil {
				port, _ := strconv.Atoi(m[2])
				out = append(out, newEndpoint(m[1], port))
				continue
			}
			if m := userHostRe.FindStringSubmatch(tok); m != nil {
				out = append(out, newEndpoint(m[2], portHint))
				continue
			}
			if bareHostRe.MatchString(tok) {
				out = append(out, newEndpoint(tok, portHint))
			}
		}
	}
	return out
}

// endpointFromURL parses a URL into an endpoint, applying scheme port
// defaults.
func endpointFromURL(raw string) (endpoint, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return endpoint{}, false
	}
	port := 0
	if ps := u.Port(); ps != "" {
		port, _ = strconv.Atoi(ps)
	} else {
		switch u.Scheme {
		case "http":
			port = 80
		case "https":
			port = 443
		}
	}
	return newEndpoint(u.Hostname(), port), true
}

// newEndpoint classifies a host as IP or domain.
func newEndpoint(host string, port int) endpoint {
	ep := endpoint{Host: host, Port: port}
	if ip := net.ParseIP(host); ip != nil {
		ep.IP = host
	} else {
		ep.Domain = host
	}
	return ep
}
