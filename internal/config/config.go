// Package config loads tradedesk settings from a YAML file, the .env file
// and TRADEDESK_* environment overrides, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	StoreDotenv = "dotenv"
	StoreBbolt  = "bbolt"
	StoreMemory = "memory"
)

// Config is the complete runtime configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Broker      BrokerConfig      `yaml:"broker"`
	Session     SessionConfig     `yaml:"session"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Stream      StreamConfig      `yaml:"stream"`
	Audit       AuditConfig       `yaml:"audit"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	TLSCert        string   `yaml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

type BrokerConfig struct {
	APIURL      string        `yaml:"api_url"`
	DataURL     string        `yaml:"data_url"`
	AuthURL     string        `yaml:"auth_url"`
	StreamURL   string        `yaml:"stream_url"`
	Timeout     time.Duration `yaml:"timeout"`
	SymbolsFile string        `yaml:"symbols_file"`
}

// SessionConfig selects where the four session fields are persisted.
type SessionConfig struct {
	Store      string `yaml:"store"`
	EnvFile    string `yaml:"env_file"`
	BoltPath   string `yaml:"bolt_path"`
	Passphrase string `yaml:"passphrase"`
	AutoOTP    bool   `yaml:"auto_otp"`
	// JSONPath overrides for the login response; empty keeps the defaults.
	Fields struct {
		UserID              string `yaml:"uid"`
		AccountID           string `yaml:"actid"`
		APISessionKey       string `yaml:"api_session_key"`
		TransportSessionKey string `yaml:"transport_session_key"`
	} `yaml:"fields"`
}

type CredentialsConfig struct {
	// Interactive is the capability flag for the interactive store.
	Interactive bool   `yaml:"interactive"`
	SecretsFile string `yaml:"secrets_file"`
	Panel       bool   `yaml:"panel"`
}

type StreamConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Exchange  string        `yaml:"exchange"`
	Symbols   []string      `yaml:"symbols"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

type AuditConfig struct {
	WebhookURL    string `yaml:"webhook_url"`
	WebhookHeader string `yaml:"webhook_header"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: "127.0.0.1:8501"},
		Broker: BrokerConfig{Timeout: 30 * time.Second},
		Session: SessionConfig{
			Store:    StoreDotenv,
			EnvFile:  ".env",
			BoltPath: "./data/session.db",
			AutoOTP:  true,
		},
		Stream: StreamConfig{Exchange: "NSE", Heartbeat: 30 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (optional; a missing file keeps the defaults), then the
// .env file named by session.env_file, then TRADEDESK_* overrides. Values
// already present in the process environment win over the .env file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	if cfg.Session.EnvFile != "" {
		if err := godotenv.Load(cfg.Session.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", cfg.Session.EnvFile, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"TRADEDESK_ADDR":              &cfg.Server.Addr,
		"TRADEDESK_API_URL":           &cfg.Broker.APIURL,
		"TRADEDESK_DATA_URL":          &cfg.Broker.DataURL,
		"TRADEDESK_AUTH_URL":          &cfg.Broker.AuthURL,
		"TRADEDESK_STREAM_URL":        &cfg.Broker.StreamURL,
		"TRADEDESK_SYMBOLS_FILE":      &cfg.Broker.SymbolsFile,
		"TRADEDESK_SESSION_STORE":     &cfg.Session.Store,
		"TRADEDESK_STORE_PASSPHRASE":  &cfg.Session.Passphrase,
		"TRADEDESK_SECRETS_FILE":      &cfg.Credentials.SecretsFile,
		"TRADEDESK_AUDIT_WEBHOOK_URL": &cfg.Audit.WebhookURL,
		"TRADEDESK_LOG_LEVEL":         &cfg.Log.Level,
		"TRADEDESK_LOG_FORMAT":        &cfg.Log.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv("TRADEDESK_AUTO_OTP"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRADEDESK_AUTO_OTP: %w", err)
		}
		cfg.Session.AutoOTP = b
	}
	if v, ok := os.LookupEnv("TRADEDESK_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRADEDESK_TIMEOUT: %w", err)
		}
		cfg.Broker.Timeout = d
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Session.Store {
	case StoreDotenv:
		if c.Session.EnvFile == "" {
			errs = append(errs, errors.New("session.env_file is required for the dotenv store"))
		}
	case StoreBbolt:
		if c.Session.BoltPath == "" {
			errs = append(errs, errors.New("session.bolt_path is required for the bbolt store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("session.store: unknown backend %q", c.Session.Store))
	}
	if c.Credentials.SecretsFile != "" && !c.Credentials.Interactive && !c.Credentials.Panel {
		errs = append(errs, errors.New("credentials.secrets_file needs credentials.interactive or credentials.panel"))
	}
	if c.Broker.Timeout <= 0 {
		errs = append(errs, errors.New("broker.timeout must be positive"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if _, err := c.Server.Proxies(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Proxies parses TrustedProxies; bare addresses become single-host prefixes.
func (s ServerConfig) Proxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: invalid entry %q", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
