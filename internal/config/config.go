// Package config loads process settings from an optional YAML file and
// command-line flags. Flags explicitly set on the command line win over the
// file, which wins over built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("keepalive", func(fl validator.FieldLevel) bool {
		_, err := ParseTCPKeepAlive(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("failed to register keepalive validator: %v", err))
	}
	if err := validate.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("failed to register cronspec validator: %v", err))
	}
}

type Settings struct {
	APIListen string `yaml:"api_listen" validate:"required,hostname_port"`
	DBPath    string `yaml:"db_path" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	Verbose   bool   `yaml:"verbose"`

	DialTimeout           time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	RelayTimeout          time.Duration `yaml:"relay_timeout" validate:"gt=0"`
	NegotiationTimeout    time.Duration `yaml:"negotiation_timeout" validate:"gt=0"`
	IdleTimeout           time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" validate:"gte=0"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace" validate:"gte=0"`

	MaxIdleConns       int    `yaml:"max_idle_conns" validate:"gte=0"`
	CopyBufferSize     int    `yaml:"copy_buffer_size" validate:"gte=0,lte=16777216"`
	UpstreamSkipVerify bool   `yaml:"upstream_skip_verify"`
	TCPKeepAlive       string `yaml:"tcp_keepalive" validate:"required,keepalive"`

	HousekeepingInterval string `yaml:"housekeeping_interval" validate:"required,cronspec"`
}

func Default() Settings {
	return Settings{
		APIListen:            "127.0.0.1:7070",
		DBPath:               "./revproxy.db",
		LogLevel:             "info",
		DialTimeout:          10 * time.Second,
		RelayTimeout:         10 * time.Second,
		NegotiationTimeout:   10 * time.Second,
		IdleTimeout:          4 * time.Minute,
		ShutdownGrace:        5 * time.Second,
		MaxIdleConns:         100,
		CopyBufferSize:       32 << 10,
		TCPKeepAlive:         "45:45:3",
		HousekeepingInterval: "@every 1m",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path skips the file.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("error reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	return s, nil
}

// Parse resolves settings from command-line args: built-in defaults, then
// the file named by --config, then any flag given explicitly.
func Parse(args []string) (Settings, error) {
	fs := pflag.NewFlagSet("revproxy", pflag.ContinueOnError)
	fs.SortFlags = false

	configPath := fs.String("config", "", "Path to a YAML settings file. Empty uses built-in defaults.")
	flagged := Default()
	flagged.bindFlags(fs)

	if err := fs.Parse(args); err != nil {
		return Settings{}, err
	}

	s, err := Load(*configPath)
	if err != nil {
		return Settings{}, err
	}

	fs.Visit(func(f *pflag.Flag) {
		s.overlay(&flagged, f.Name)
	})

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.APIListen, "api-listen", s.APIListen, "Console API listen address")
	fs.StringVar(&s.DBPath, "db", s.DBPath, "Path to the SQLite configuration database")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "Log level: debug|info|warn|error")
	fs.BoolVar(&s.Verbose, "verbose", s.Verbose, "Development logging and SQL statement logging")
	fs.DurationVar(&s.DialTimeout, "dial-timeout", s.DialTimeout, "Timeout for outbound DNS lookup and TCP connect to a remote")
	fs.DurationVar(&s.RelayTimeout, "relay-timeout", s.RelayTimeout, "Timeout for connecting to a SOCKS5 relay and completing its handshake")
	fs.DurationVar(&s.NegotiationTimeout, "negotiation-timeout", s.NegotiationTimeout, "Timeout for TLS handshakes and reading request headers")
	fs.DurationVar(&s.IdleTimeout, "idle-timeout", s.IdleTimeout, "Timeout for idle client and pooled upstream connections")
	fs.DurationVar(&s.ResponseHeaderTimeout, "response-header-timeout", s.ResponseHeaderTimeout, "Timeout waiting for a remote's response headers (0 disables)")
	fs.DurationVar(&s.ShutdownGrace, "shutdown-grace", s.ShutdownGrace, "Time in-flight requests get to finish when a proxy stops (0 closes them at once)")
	fs.IntVar(&s.MaxIdleConns, "max-idle-conns", s.MaxIdleConns, "Maximum idle upstream connections per proxy")
	fs.IntVar(&s.CopyBufferSize, "copy-buffer-size", s.CopyBufferSize, "Buffer size in bytes for streaming response bodies")
	fs.BoolVar(&s.UpstreamSkipVerify, "upstream-skip-verify", s.UpstreamSkipVerify, "Skip TLS certificate verification of https remotes")
	fs.StringVar(&s.TCPKeepAlive, "tcp-keepalive", s.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.StringVar(&s.HousekeepingInterval, "housekeeping-interval", s.HousekeepingInterval, "Cron spec for periodic housekeeping")
}

func (s *Settings) overlay(src *Settings, flag string) {
	switch flag {
	case "api-listen":
		s.APIListen = src.APIListen
	case "db":
		s.DBPath = src.DBPath
	case "log-level":
		s.LogLevel = src.LogLevel
	case "verbose":
		s.Verbose = src.Verbose
	case "dial-timeout":
		s.DialTimeout = src.DialTimeout
	case "relay-timeout":
		s.RelayTimeout = src.RelayTimeout
	case "negotiation-timeout":
		s.NegotiationTimeout = src.NegotiationTimeout
	case "idle-timeout":
		s.IdleTimeout = src.IdleTimeout
	case "response-header-timeout":
		s.ResponseHeaderTimeout = src.ResponseHeaderTimeout
	case "shutdown-grace":
		s.ShutdownGrace = src.ShutdownGrace
	case "max-idle-conns":
		s.MaxIdleConns = src.MaxIdleConns
	case "copy-buffer-size":
		s.CopyBufferSize = src.CopyBufferSize
	case "upstream-skip-verify":
		s.UpstreamSkipVerify = src.UpstreamSkipVerify
	case "tcp-keepalive":
		s.TCPKeepAlive = src.TCPKeepAlive
	case "housekeeping-interval":
		s.HousekeepingInterval = src.HousekeepingInterval
	}
}

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// KeepAlive returns the parsed TCPKeepAlive setting.
func (s Settings) KeepAlive() net.KeepAliveConfig {
	ka, _ := ParseTCPKeepAlive(s.TCPKeepAlive)
	return ka
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}
