// Package config provides configuration loading and management for the collaboration server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/notes-collab-server/internal/telemetry"
)

const (
	// AuthModeHMAC verifies tokens signed with a shared secret
	AuthModeHMAC = "hmac"

	// AuthModeOIDC verifies tokens against one or more OIDC issuers
	AuthModeOIDC = "oidc"

	// AuthModeMulti tries the HMAC secret first, then every OIDC provider
	AuthModeMulti = "multi"
)

const (
	// StorageTypeMemory keeps note ownership and shares in memory
	StorageTypeMemory = "memory"

	// StorageTypeDatabase reads note ownership and shares from PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	// EnvPrefix namespaces the environment variables read by the CLI
	EnvPrefix = "NOTES_COLLAB"

	// JWTSecretEnvVar overrides auth.hmac.secretFile when set
	JWTSecretEnvVar = "NOTES_COLLAB_JWT_SECRET"

	// DatabasePasswordEnvVar is consulted when storage.database.passwordFile is empty
	DatabasePasswordEnvVar = "NOTES_COLLAB_DATABASE_PASSWORD"

	// DefaultConfigRelPath is searched under the XDG config directories
	DefaultConfigRelPath = "notes-collab/config.yaml"
)

// Defaults applied by the getters when a field is left empty.
const (
	DefaultAddress           = ":8080"
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 15 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultSendBufferSize    = 64
	DefaultMessagesPerSecond = 50.0
	DefaultBurst             = 100
	DefaultPingInterval      = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultWSWriteTimeout    = 10 * time.Second
	DefaultRealm             = "notes-collab"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// DefaultConfigPath searches the XDG config directories for notes-collab/config.yaml.
func DefaultConfigPath() (string, error) {
	path, err := xdg.SearchConfigFile(DefaultConfigRelPath)
	if err != nil {
		return "", fmt.Errorf("no --config given and %s not found: %w", DefaultConfigRelPath, err)
	}
	return path, nil
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Auth      AuthConfig        `yaml:"auth"`
	Storage   StorageConfig     `yaml:"storage"`
	Collab    CollabConfig      `yaml:"collab"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address      string `yaml:"address,omitempty"`
	ReadTimeout  string `yaml:"readTimeout,omitempty"`
	WriteTimeout string `yaml:"writeTimeout,omitempty"`
	IdleTimeout  string `yaml:"idleTimeout,omitempty"`

	// AllowedOrigins lists the Origin header values accepted on websocket
	// upgrade. Empty means same-host only; "*" accepts any origin.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// GetAddress returns the listen address, defaulting to :8080
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultAddress
	}
	return s.Address
}

// GetReadTimeout returns the parsed read timeout or its default
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return durationOr(s.ReadTimeout, DefaultReadTimeout)
}

// GetWriteTimeout returns the parsed write timeout or its default
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return durationOr(s.WriteTimeout, DefaultWriteTimeout)
}

// GetIdleTimeout returns the parsed idle timeout or its default
func (s *ServerConfig) GetIdleTimeout() time.Duration {
	return durationOr(s.IdleTimeout, DefaultIdleTimeout)
}

// AuthConfig selects and configures the token verifiers.
type AuthConfig struct {
	// Mode is one of hmac, oidc or multi
	Mode string `yaml:"mode"`

	HMAC      *HMACConfig      `yaml:"hmac,omitempty"`
	Providers []ProviderConfig `yaml:"providers,omitempty"`
	Claims    ClaimsConfig     `yaml:"claims,omitempty"`

	// Realm is reported in WWW-Authenticate challenges
	Realm string `yaml:"realm,omitempty"`

	// ResourceURL enables the RFC 9728 protected resource metadata endpoint
	ResourceURL string `yaml:"resourceURL,omitempty"`

	// PolicyFile replaces the built-in Cedar access policies
	PolicyFile string `yaml:"policyFile,omitempty"`
}

// GetRealm returns the configured realm or "notes-collab"
func (a *AuthConfig) GetRealm() string {
	if a.Realm == "" {
		return DefaultRealm
	}
	return a.Realm
}

// HMACConfig configures shared-secret token verification.
type HMACConfig struct {
	// SecretFile holds the signing secret; NOTES_COLLAB_JWT_SECRET takes precedence
	SecretFile string `yaml:"secretFile,omitempty"`
	Issuer     string `yaml:"issuer,omitempty"`
	Audience   string `yaml:"audience,omitempty"`
}

// GetSecret returns the HMAC secret using the following priority:
// 1. NOTES_COLLAB_JWT_SECRET environment variable
// 2. Contents of SecretFile, trimmed of surrounding whitespace
func (h *HMACConfig) GetSecret() ([]byte, error) {
	if env := os.Getenv(JWTSecretEnvVar); env != "" {
		return []byte(env), nil
	}
	if h == nil || h.SecretFile == "" {
		return nil, fmt.Errorf("no jwt secret configured: set auth.hmac.secretFile or %s", JWTSecretEnvVar)
	}

	data, err := os.ReadFile(filepath.Clean(h.SecretFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read jwt secret from file %s: %w", h.SecretFile, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return nil, fmt.Errorf("jwt secret file %s is empty", h.SecretFile)
	}
	return []byte(secret), nil
}

// ProviderConfig describes one OIDC issuer.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	IssuerURL string `yaml:"issuerURL"`

	// JWKSURL skips OIDC discovery when set
	JWKSURL  string `yaml:"jwksURL,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

// ClaimsConfig names the token claims that carry the display fields.
type ClaimsConfig struct {
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// GetName returns the display name claim, defaulting to "name"
func (c ClaimsConfig) GetName() string {
	if c.Name == "" {
		return "name"
	}
	return c.Name
}

// GetEmail returns the email claim, defaulting to "email"
func (c ClaimsConfig) GetEmail() string {
	if c.Email == "" {
		return "email"
	}
	return c.Email
}

// StorageConfig selects where note ownership and shares are read from.
type StorageConfig struct {
	Type string `yaml:"type"`

	// SeedFile populates the memory store at startup
	SeedFile string          `yaml:"seedFile,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// DynamicAuth replaces the static password with short-lived tokens
	DynamicAuth *DynamicAuthConfig `yaml:"dynamicAuth,omitempty"`
}

// DynamicAuthConfig selects a token-based database authentication method.
type DynamicAuthConfig struct {
	AWSRDSIAM *AWSRDSIAMConfig `yaml:"awsRdsIam,omitempty"`
}

// AWSRDSIAMConfig configures AWS RDS IAM authentication.
type AWSRDSIAMConfig struct {
	// Region is the AWS region of the database, or "detect" to read it from IMDS
	Region string `yaml:"region"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from NOTES_COLLAB_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(DatabasePasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", DatabasePasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely. With
// dynamic auth the string carries no password; the token is supplied per
// connection.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	if d.DynamicAuth != nil {
		return d.BuildConnectionStringWithAuth(d.User, ""), nil
	}

	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}
	return d.BuildConnectionStringWithAuth(d.User, password), nil
}

// BuildConnectionStringWithAuth builds a connection string for user. An empty
// password is left out of the URL.
func (d *DatabaseConfig) BuildConnectionStringWithAuth(user, password string) string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	userInfo := url.QueryEscape(user)
	if password != "" {
		userInfo += ":" + url.QueryEscape(password)
	}

	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		userInfo,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)
}

// GetConnMaxLifetime returns the parsed connection lifetime, or zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return durationOr(d.ConnMaxLifetime, 0)
}

// CollabConfig tunes the websocket transport.
type CollabConfig struct {
	MaxMessageBytes   int64   `yaml:"maxMessageBytes,omitempty"`
	SendBufferSize    int     `yaml:"sendBufferSize,omitempty"`
	MessagesPerSecond float64 `yaml:"messagesPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
	PingInterval      string  `yaml:"pingInterval,omitempty"`
	PongTimeout       string  `yaml:"pongTimeout,omitempty"`
	WriteTimeout      string  `yaml:"writeTimeout,omitempty"`
}

// GetMaxMessageBytes returns the inbound frame size limit
func (c *CollabConfig) GetMaxMessageBytes() int64 {
	if c.MaxMessageBytes <= 0 {
		return DefaultMaxMessageBytes
	}
	return c.MaxMessageBytes
}

// GetSendBufferSize returns the per-connection outbound queue length
func (c *CollabConfig) GetSendBufferSize() int {
	if c.SendBufferSize <= 0 {
		return DefaultSendBufferSize
	}
	return c.SendBufferSize
}

// GetMessagesPerSecond returns the sustained inbound rate per connection
func (c *CollabConfig) GetMessagesPerSecond() float64 {
	if c.MessagesPerSecond <= 0 {
		return DefaultMessagesPerSecond
	}
	return c.MessagesPerSecond
}

// GetBurst returns the token bucket size per connection
func (c *CollabConfig) GetBurst() int {
	if c.Burst <= 0 {
		return DefaultBurst
	}
	return c.Burst
}

// GetPingInterval returns how often the server pings idle clients
func (c *CollabConfig) GetPingInterval() time.Duration {
	return durationOr(c.PingInterval, DefaultPingInterval)
}

// GetPongTimeout returns how long a connection may stay silent before it is closed
func (c *CollabConfig) GetPongTimeout() time.Duration {
	return durationOr(c.PongTimeout, DefaultPongTimeout)
}

// GetWriteTimeout returns the deadline for a single websocket write
func (c *CollabConfig) GetWriteTimeout() time.Duration {
	return durationOr(c.WriteTimeout, DefaultWSWriteTimeout)
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	var errs []error

	errs = append(errs, validateDurations("server", map[string]string{
		"readTimeout":  c.Server.ReadTimeout,
		"writeTimeout": c.Server.WriteTimeout,
		"idleTimeout":  c.Server.IdleTimeout,
	})...)
	errs = append(errs, c.Auth.validate()...)
	errs = append(errs, c.Storage.validate()...)
	errs = append(errs, validateDurations("collab", map[string]string{
		"pingInterval": c.Collab.PingInterval,
		"pongTimeout":  c.Collab.PongTimeout,
		"writeTimeout": c.Collab.WriteTimeout,
	})...)
	if c.Collab.GetPongTimeout() <= c.Collab.GetPingInterval() {
		errs = append(errs, fmt.Errorf("collab.pongTimeout must be greater than collab.pingInterval"))
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (a *AuthConfig) validate() []error {
	var errs []error

	switch a.Mode {
	case AuthModeHMAC:
		if a.HMAC == nil {
			errs = append(errs, fmt.Errorf("auth.hmac is required when auth.mode is %q", a.Mode))
		}
	case AuthModeOIDC:
		if len(a.Providers) == 0 {
			errs = append(errs, fmt.Errorf("auth.providers is required when auth.mode is %q", a.Mode))
		}
	case AuthModeMulti:
		if a.HMAC == nil && len(a.Providers) == 0 {
			errs = append(errs, fmt.Errorf("auth.mode %q needs auth.hmac or auth.providers", a.Mode))
		}
	case "":
		errs = append(errs, fmt.Errorf("auth.mode is required"))
	default:
		errs = append(errs, fmt.Errorf("auth.mode must be one of hmac, oidc, multi, got %q", a.Mode))
	}

	seen := make(map[string]bool, len(a.Providers))
	for i, p := range a.Providers {
		prefix := fmt.Sprintf("auth.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is duplicated", prefix, p.Name))
		}
		seen[p.Name] = true
		if p.IssuerURL == "" {
			errs = append(errs, fmt.Errorf("%s.issuerURL is required", prefix))
		} else if err := validateHTTPURL(p.IssuerURL); err != nil {
			errs = append(errs, fmt.Errorf("%s.issuerURL: %w", prefix, err))
		}
		if p.JWKSURL != "" {
			if err := validateHTTPURL(p.JWKSURL); err != nil {
				errs = append(errs, fmt.Errorf("%s.jwksURL: %w", prefix, err))
			}
		}
	}

	if a.ResourceURL != "" {
		if err := validateHTTPURL(a.ResourceURL); err != nil {
			errs = append(errs, fmt.Errorf("auth.resourceURL: %w", err))
		}
	}
	return errs
}

func (s *StorageConfig) validate() []error {
	switch s.Type {
	case StorageTypeMemory, "":
		return nil
	case StorageTypeDatabase:
		if s.Database == nil {
			return []error{fmt.Errorf("storage.database is required when storage.type is %q", s.Type)}
		}
		var errs []error
		if s.Database.Host == "" {
			errs = append(errs, fmt.Errorf("storage.database.host is required"))
		}
		if s.Database.Port <= 0 || s.Database.Port > 65535 {
			errs = append(errs, fmt.Errorf("storage.database.port must be between 1 and 65535"))
		}
		if s.Database.User == "" {
			errs = append(errs, fmt.Errorf("storage.database.user is required"))
		}
		if s.Database.Database == "" {
			errs = append(errs, fmt.Errorf("storage.database.database is required"))
		}
		if s.Database.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(s.Database.ConnMaxLifetime); err != nil {
				errs = append(errs, fmt.Errorf("storage.database.connMaxLifetime: %w", err))
			}
		}
		if da := s.Database.DynamicAuth; da != nil {
			if da.AWSRDSIAM == nil {
				errs = append(errs, fmt.Errorf("storage.database.dynamicAuth needs a method such as awsRdsIam"))
			} else if da.AWSRDSIAM.Region == "" {
				errs = append(errs, fmt.Errorf("storage.database.dynamicAuth.awsRdsIam.region is required"))
			}
		}
		return errs
	default:
		return []error{fmt.Errorf("storage.type must be %q or %q, got %q", StorageTypeMemory, StorageTypeDatabase, s.Type)}
	}
}

// GetType returns the storage type, defaulting to memory
func (s *StorageConfig) GetType() string {
	if s.Type == "" {
		return StorageTypeMemory
	}
	return s.Type
}

func validateDurations(section string, fields map[string]string) []error {
	var errs []error
	for name, value := range fields {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", section, name, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s.%s must be positive", section, name))
		}
	}
	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
