// Package config loads bridge settings from a .env file, the environment and
// command-line flags, in that order of increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"example.com/clueless_bridge/internal/view"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	TransportStdio = "stdio"
	TransportWS    = "ws"
)

type Config struct {
	Transport       string        `env:"BRIDGE_TRANSPORT"        envDefault:"stdio"`
	HTTPAddr        string        `env:"BRIDGE_HTTP_ADDR"        envDefault:":8080"`
	OriginAllowlist []string      `env:"BRIDGE_ORIGIN_ALLOWLIST" envDefault:"http://localhost:8080,http://127.0.0.1:8080" envSeparator:","`
	Quorum          int           `env:"BRIDGE_QUORUM"           envDefault:"3"`
	UpdateMode      string        `env:"BRIDGE_UPDATE_MODE"      envDefault:"forced"`
	PushInterval    time.Duration `env:"BRIDGE_PUSH_INTERVAL"    envDefault:"0s"`
	InboundQueue    int           `env:"BRIDGE_INBOUND_QUEUE"    envDefault:"64"`
	RulesScript     string        `env:"BRIDGE_RULES_SCRIPT"`
	RulesSeed       int64         `env:"BRIDGE_RULES_SEED"`
	JournalPath     string        `env:"BRIDGE_JOURNAL_PATH"`
	NotifyErrors    bool          `env:"BRIDGE_NOTIFY_ERRORS"    envDefault:"true"`
	ExitOnEmpty     bool          `env:"BRIDGE_EXIT_ON_EMPTY"`
	GRPCAddr        string        `env:"BRIDGE_GRPC_ADDR"`
	OTelEndpoint    string        `env:"BRIDGE_OTEL_ENDPOINT"`
	OTelEnabled     bool          `env:"BRIDGE_OTEL_ENABLED"     envDefault:"true"`
	Debug           bool          `env:"BRIDGE_DEBUG"`
}

// LoadDotEnv copies variables from the given files into the environment
// without overriding ones already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ParseConfig reads the environment and then lets flags in args override it.
func ParseConfig(fset *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fset.StringVar(&cfg.Transport, "transport", cfg.Transport, "line transport: stdio or ws")
	fset.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "websocket gateway listen address")
	fset.Func("origins", "comma separated list of allowed websocket origins", func(s string) error {
		cfg.OriginAllowlist = splitList(s)
		return nil
	})
	fset.IntVar(&cfg.Quorum, "quorum", cfg.Quorum, "players needed before game_is_ready")
	fset.StringVar(&cfg.UpdateMode, "update-mode", cfg.UpdateMode, "per-player view updates: forced or dirty")
	fset.DurationVar(&cfg.PushInterval, "push-interval", cfg.PushInterval, "push views on a timer as well as per message (0 disables)")
	fset.IntVar(&cfg.InboundQueue, "inbound-queue", cfg.InboundQueue, "inbound lines buffered ahead of the loop")
	fset.StringVar(&cfg.RulesScript, "rules", cfg.RulesScript, "Lua ruleset path (empty uses the bundled Clue-less rules)")
	fset.Int64Var(&cfg.RulesSeed, "rules-seed", cfg.RulesSeed, "seed for the ruleset's random numbers (0 seeds from the clock)")
	fset.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite transcript path (empty disables)")
	fset.BoolVar(&cfg.NotifyErrors, "notify-errors", cfg.NotifyErrors, "send an error envelope to the sender of a rejected event")
	fset.BoolVar(&cfg.ExitOnEmpty, "exit-on-empty", cfg.ExitOnEmpty, "exit once the last player disconnects")
	fset.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fset.BoolVar(&cfg.Debug, "debug", cfg.Debug, "verbose development logging")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Mode returns the parsed update mode.
func (c Config) Mode() (view.Mode, error) {
	return view.ParseMode(c.UpdateMode)
}

// TracingEnabled reports whether spans should be exported.
func (c Config) TracingEnabled() bool {
	return c.OTelEnabled && strings.TrimSpace(c.OTelEndpoint) != ""
}

func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportStdio, TransportWS:
	default:
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", TransportStdio, TransportWS, c.Transport))
	}
	if _, err := c.Mode(); err != nil {
		errs = append(errs, err)
	}
	if c.Quorum < 1 {
		errs = append(errs, fmt.Errorf("quorum must be at least 1, got %d", c.Quorum))
	}
	if c.InboundQueue < 0 {
		errs = append(errs, fmt.Errorf("inbound queue must not be negative, got %d", c.InboundQueue))
	}
	if c.PushInterval < 0 {
		errs = append(errs, fmt.Errorf("push interval must not be negative, got %s", c.PushInterval))
	}
	if c.Transport == TransportWS && c.HTTPAddr == "" {
		errs = append(errs, errors.New("ws transport needs an http address"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
