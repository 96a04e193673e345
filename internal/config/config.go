// Package config loads and resolves the Radius configuration: built-in
// defaults overlaid with profile defaults and the user document, with
// ${VAR} template expansion applied to every string value.
package config

// Config is the fully resolved top-level configuration. It is loaded once
// per runtime and frozen.
type Config struct {
	Global       GlobalConfig                      `yaml:"global"`
	Audit        AuditConfig                       `yaml:"audit"`
	Approval     ApprovalConfig                    `yaml:"approval"`
	Adapters     map[string]map[string]interface{} `yaml:"adapters"`
	Modules      []string                          `yaml:"modules"`
	ModuleConfig map[string]map[string]interface{} `yaml:"moduleConfig"`
}

// GlobalConfig holds kernel-wide settings.
type GlobalConfig struct {
	Profile                string `yaml:"profile"`
	DefaultAction          string `yaml:"defaultAction"` // deny or allow
	Workspace              string `yaml:"workspace"`
	OnUndefinedTemplateVar string `yaml:"onUndefinedTemplateVar"` // error or empty
}

// AuditConfig controls the decision log.
type AuditConfig struct {
	Enabled          bool               `yaml:"enabled"`
	File             string             `yaml:"file"`
	Stdout           bool               `yaml:"stdout"`
	IncludeArguments bool               `yaml:"includeArguments"`
	IncludeResults   bool               `yaml:"includeResults"`
	Webhook          AuditWebhookConfig `yaml:"webhook"`
	OTLP             AuditOTLPConfig    `yaml:"otlp"`
}

// AuditWebhookConfig configures the fire-and-forget webhook sink.
type AuditWebhookConfig struct {
	URL       string `yaml:"url"`
	Secret    string `yaml:"secret"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// AuditOTLPConfig configures the OTLP-JSON log sink.
type AuditOTLPConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// ApprovalConfig controls challenge resolution.
type ApprovalConfig struct {
	Enabled             bool                    `yaml:"enabled"`
	Mode                string                  `yaml:"mode"` // sync_wait is the only implemented mode
	DefaultChannel      string                  `yaml:"defaultChannel"`
	OnTimeout           string                  `yaml:"onTimeout"`        // deny or alert
	OnConnectorError    string                  `yaml:"onConnectorError"` // deny or alert
	LeaseDefaultTTLSec  int                     `yaml:"leaseDefaultTtlSec"`
	LeaseMaxTTLSec      int                     `yaml:"leaseMaxTtlSec"`
	MetadataChannelKeys []string                `yaml:"metadataChannelKeys"`
	FrameworkChannels   map[string]string       `yaml:"frameworkChannels"`
	Telegram            TelegramConnectorConfig `yaml:"telegram"`
	HTTP                HTTPConnectorConfig     `yaml:"http"`
	Store               StoreConfig             `yaml:"store"`
}

// TelegramConnectorConfig configures the chat approval connector.
type TelegramConnectorConfig struct {
	BotToken       string  `yaml:"botToken"`
	APIBase        string  `yaml:"apiBase"` // override for tests; default https://api.telegram.org
	ChatIDs        []int64 `yaml:"chatIds"`
	Approvers      []int64 `yaml:"approvers"`
	PollIntervalMs int     `yaml:"pollIntervalMs"`
	Transport      string  `yaml:"transport"` // polling; webhook is declared but unsupported
}

// HTTPConnectorConfig configures the HTTP approval bridge.
type HTTPConnectorConfig struct {
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMs int               `yaml:"timeoutMs"`
}

// StoreConfig is the shared persistent-state settings block. Modules embed
// it under a "store" key; approval shares the same database file.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory or sqlite
	Path     string `yaml:"path"`
	Required bool   `yaml:"required"`
}
