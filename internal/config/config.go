package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultFallbackReply is sent when a message could not be answered.
const DefaultFallbackReply = "Sorry, I encountered an error processing your request. Please try again."

// Config is the root configuration for hkbot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Store     StoreConfig     `json:"store"`
	Storage   StorageConfig   `json:"storage"`
	Media     MediaConfig     `json:"media"`
	Directory DirectoryConfig `json:"directory"`
	Agents    AgentsConfig    `json:"agents"`
	Server    ServerConfig    `json:"server"`
	Tracing   TracingConfig   `json:"tracing"`
	AWS       AWSConfig       `json:"aws"`
}

type GeneralConfig struct {
	LogLevel            string `json:"logLevel"`
	LogFile             string `json:"logFile,omitempty"` // optional JSON log file
	HistoryLimit        int    `json:"historyLimit"`
	AgentTimeoutSeconds int    `json:"agentTimeoutSeconds"`
	MaxToolSteps        int    `json:"maxToolSteps"`
	Workers             int    `json:"workers"` // 1 = strictly sequential processing
	QueueSize           int    `json:"queueSize"`
	FallbackReply       string `json:"fallbackReply"`
}

// AgentTimeout is the wall-clock budget of one agent run.
func (g GeneralConfig) AgentTimeout() time.Duration {
	return time.Duration(g.AgentTimeoutSeconds) * time.Second
}

type WhatsAppConfig struct {
	AccessToken       string  `json:"accessToken,omitempty"`
	VerifyToken       string  `json:"verifyToken,omitempty"`
	AppSecret         string  `json:"appSecret,omitempty"` // enables X-Hub-Signature-256 checks
	PhoneNumberID     string  `json:"phoneNumberId,omitempty"`
	BusinessID        string  `json:"businessId,omitempty"` // used when a delivery carries no metadata
	APIBase           string  `json:"apiBase"`
	APIVersion        string  `json:"apiVersion"`
	SendRatePerSecond float64 `json:"sendRatePerSecond"`
	SendBurst         int     `json:"sendBurst"`
}

type OpenAIConfig struct {
	APIKey                string  `json:"apiKey,omitempty"`
	APIBase               string  `json:"apiBase"`
	Model                 string  `json:"model"`
	Temperature           float64 `json:"temperature"`
	MaxTokens             int     `json:"maxTokens"`
	TranscriptionModel    string  `json:"transcriptionModel"`
	TranscriptionLanguage string  `json:"transcriptionLanguage,omitempty"`
}

type StoreConfig struct {
	Driver      string `json:"driver"` // "sqlite" | "postgres"
	SQLitePath  string `json:"sqlitePath"`
	PostgresDSN string `json:"postgresDSN,omitempty"`
	AutoMigrate bool   `json:"autoMigrate"`
}

type StorageConfig struct {
	Driver        string `json:"driver"` // "local" | "s3"
	LocalDir      string `json:"localDir"`
	PublicBaseURL string `json:"publicBaseURL,omitempty"`
	S3Bucket      string `json:"s3Bucket,omitempty"`
	S3Region      string `json:"s3Region,omitempty"`
	S3Prefix      string `json:"s3Prefix,omitempty"`
}

type MediaConfig struct {
	DownloadDir       string `json:"downloadDir"`
	MaxImageDimension int    `json:"maxImageDimension"` // 0 = keep original size
}

type DirectoryConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch"`
}

type AgentsConfig struct {
	Path string `json:"path,omitempty"` // YAML definitions; built-ins when empty
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
	DebugRoutes bool   `json:"debugRoutes"`
	MetricsPath string `json:"metricsPath"`
}

// Addr is the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"` // OTLP/HTTP endpoint URL
	ServiceName string `json:"serviceName"`
}

type AWSConfig struct {
	Region string `json:"region,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.hkbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hkbot"
	}
	return filepath.Join(home, ".hkbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the JSON file at path, expands ${VAR} references and validates
// the result. Secret references (ssm:) are left for ResolveSecrets.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.SQLitePath = ExpandPath(cfg.Store.SQLitePath)
	cfg.Storage.LocalDir = ExpandPath(cfg.Storage.LocalDir)
	cfg.Media.DownloadDir = ExpandPath(cfg.Media.DownloadDir)
	cfg.Directory.Path = ExpandPath(cfg.Directory.Path)
	cfg.Agents.Path = ExpandPath(cfg.Agents.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, ok := os.LookupEnv(groups[1])
		if !ok || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.HistoryLimit < 1 || cfg.General.HistoryLimit > 200 {
		errs = append(errs, "general.historyLimit must be between 1 and 200")
	}
	if cfg.General.AgentTimeoutSeconds < 1 {
		errs = append(errs, "general.agentTimeoutSeconds must be >= 1")
	}
	if cfg.General.MaxToolSteps < 1 || cfg.General.MaxToolSteps > 100 {
		errs = append(errs, "general.maxToolSteps must be between 1 and 100")
	}
	if cfg.General.Workers < 1 || cfg.General.Workers > 64 {
		errs = append(errs, "general.workers must be between 1 and 64")
	}
	if cfg.General.QueueSize < 1 {
		errs = append(errs, "general.queueSize must be >= 1")
	}
	if strings.TrimSpace(cfg.General.FallbackReply) == "" {
		errs = append(errs, "general.fallbackReply must not be empty")
	}

	if cfg.WhatsApp.SendRatePerSecond < 0 {
		errs = append(errs, "whatsapp.sendRatePerSecond must be >= 0")
	}
	if cfg.WhatsApp.SendRatePerSecond > 0 && cfg.WhatsApp.SendBurst < 1 {
		errs = append(errs, "whatsapp.sendBurst must be >= 1 when a send rate is set")
	}
	if _, err := url.Parse(cfg.WhatsApp.APIBase); err != nil || cfg.WhatsApp.APIBase == "" {
		errs = append(errs, "whatsapp.apiBase must be a valid URL")
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlitePath is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, "store.postgresDSN is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: sqlite, postgres")
	}

	switch cfg.Storage.Driver {
	case "local":
		if cfg.Storage.LocalDir == "" {
			errs = append(errs, "storage.localDir is required for the local driver")
		}
	case "s3":
		if cfg.Storage.S3Bucket == "" {
			errs = append(errs, "storage.s3Bucket is required for the s3 driver")
		}
	default:
		errs = append(errs, "storage.driver must be one of: local, s3")
	}

	if cfg.Media.MaxImageDimension < 0 {
		errs = append(errs, "media.maxImageDimension must be >= 0")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.ServiceName == "" {
		errs = append(errs, "tracing.serviceName is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
