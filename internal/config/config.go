// Package config provides YAML-file configuration with environment-variable
// overrides for the campaign mailer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = 587
	defaultDelaySeconds = 10
	defaultQRDir        = "qrcodes"
)

// Config holds the complete application configuration.
type Config struct {
	// Transport selects the delivery backend: "smtp", "ses", "stdout", or
	// empty for auto-detection.
	Transport string        `yaml:"transport"`
	SMTP      SMTPConfig    `yaml:"smtp"`
	Send      SendConfig    `yaml:"send"`
	SES       SESConfig     `yaml:"ses"`
	Logging   LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds SMTP relay credentials.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Email              string `yaml:"email"`
	Password           string `yaml:"password"`
	ReplyTo            string `yaml:"reply_to"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
}

// SendConfig holds dispatch pacing options.
type SendConfig struct {
	// DelaySeconds is the inter-send throttle. The dispatcher clamps it to
	// its floor at run time.
	DelaySeconds float64 `yaml:"delay_seconds"`
	// QRDir is the directory against which relative QR code paths resolve.
	QRDir string `yaml:"qr_dir"`
}

// SESConfig holds AWS SES delivery configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer, then
// overrides with environment variables. Returns an error if the specified
// file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SMTPConfigured returns true if the SMTP relay credentials are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Email != "" && c.SMTP.Password != ""
}

// SESConfigured returns true if region and sender are set for SES delivery.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// Delay returns the configured inter-send throttle as a duration.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.Send.DelaySeconds * float64(time.Second))
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = defaultPort
	c.Send.DelaySeconds = defaultDelaySeconds
	c.Send.QRDir = defaultQRDir
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_EMAIL"); v != "" {
		c.SMTP.Email = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_REPLY_TO"); v != "" {
		c.SMTP.ReplyTo = v
	}

	if v := os.Getenv("SEND_DELAY"); v != "" {
		if delay, err := strconv.ParseFloat(v, 64); err == nil {
			c.Send.DelaySeconds = delay
		}
	}
	if v := os.Getenv("QR_DIR"); v != "" {
		c.Send.QRDir = v
	}
	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
