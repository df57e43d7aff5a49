package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	internalerrors "github.com/contrast-oss/license-exporter/internal/errors"
	"github.com/contrast-oss/license-exporter/internal/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Mode is the operating mode selected at startup.
type Mode string

const (
	ModeServe Mode = "serve" // expose metrics for scraping and refresh on an interval
	ModePush  Mode = "push"  // push one result to a Pushgateway and exit
	ModeOnce  Mode = "once"  // run one cycle locally and exit
)

const (
	DefaultConfigFile     = "config.json"
	DefaultUpdateInterval = 5 // minutes
	DefaultLogLevel       = "INFO"
	DefaultLogFormat      = "auto"
	DefaultPushJob        = "contrast_assess_licenses_used"
)

// Environment variables consulted when the matching flag was not given.
const (
	EnvConfigFile     = "CONTRAST_LICENSES_CONFIG"
	EnvUpdateInterval = "CONTRAST_LICENSES_UPDATE_INTERVAL"
	EnvLogLevel       = "CONTRAST_LICENSES_LOG_LEVEL"
	EnvListenPort     = "CONTRAST_LICENSES_LISTEN_PORT"
	EnvPushGateway    = "CONTRAST_LICENSES_PUSH_GATEWAY"
)

// Options holds the runtime settings supplied on the command line.
type Options struct {
	ConfigFile     string
	EnvFile        string
	UpdateInterval int // minutes
	LogLevel       string
	LogFormat      string
	LogFile        string
	ListenAddress  string
	ListenPort     int    // 0 means serve mode is not selected
	PushGateway    string // empty means push mode is not selected
	PushJob        string
	Dump           bool
}

// DefaultOptions returns Options populated with defaults.
func DefaultOptions() Options {
	return Options{
		ConfigFile:     DefaultConfigFile,
		UpdateInterval: DefaultUpdateInterval,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		PushJob:        DefaultPushJob,
	}
}

// Mode resolves the operating mode. Selecting both a listen port and a push
// gateway is a configuration error.
func (o Options) Mode() (Mode, error) {
	serve := o.ListenPort != 0
	push := strings.TrimSpace(o.PushGateway) != ""

	switch {
	case serve && push:
		return "", internalerrors.New(internalerrors.KindConfig, "resolve_mode",
			fmt.Errorf("%w: --prometheus-listen-port (%d) and --prometheus-push-gateway (%s) are mutually exclusive",
				internalerrors.ErrConflictingModes, o.ListenPort, o.PushGateway))
	case serve:
		return ModeServe, nil
	case push:
		return ModePush, nil
	default:
		return ModeOnce, nil
	}
}

// Interval returns the serve-mode update interval.
func (o Options) Interval() time.Duration {
	return time.Duration(o.UpdateInterval) * time.Minute
}

// ListenAddr returns the host:port the metrics server binds to.
func (o Options) ListenAddr() string {
	return fmt.Sprintf("%s:%d", o.ListenAddress, o.ListenPort)
}

// Validate checks every option and returns the first problem found.
func (o Options) Validate() error {
	if _, err := o.Mode(); err != nil {
		return err
	}
	if o.UpdateInterval < 1 {
		return configError("validate_options", "update interval must be at least 1 minute, got %d", o.UpdateInterval)
	}
	if o.ListenPort < 0 || o.ListenPort > 65535 {
		return configError("validate_options", "listen port %d is out of range", o.ListenPort)
	}
	if !logging.ValidLevel(o.LogLevel) {
		return configError("validate_options", "unknown log level %q (expected CRITICAL, ERROR, WARN, INFO or DEBUG)", o.LogLevel)
	}
	if gw := strings.TrimSpace(o.PushGateway); gw != "" && strings.TrimSpace(o.PushJob) == "" {
		return configError("validate_options", "push job name must not be empty")
	}
	return nil
}

// ApplyEnv fills options whose flag was not explicitly set from the
// process environment. isSet reports whether a flag was given on the
// command line.
func (o *Options) ApplyEnv(getenv func(string) string, isSet func(flag string) bool) error {
	if v := getenv(EnvConfigFile); v != "" && !isSet("config-file") {
		o.ConfigFile = v
	}
	if v := getenv(EnvLogLevel); v != "" && !isSet("log-level") {
		o.LogLevel = v
	}
	if v := getenv(EnvPushGateway); v != "" && !isSet("prometheus-push-gateway") {
		o.PushGateway = v
	}
	if v := getenv(EnvUpdateInterval); v != "" && !isSet("update-interval") {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return configError("apply_env", "%s: invalid integer %q", EnvUpdateInterval, v)
		}
		o.UpdateInterval = n
	}
	if v := getenv(EnvListenPort); v != "" && !isSet("prometheus-listen-port") {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return configError("apply_env", "%s: invalid integer %q", EnvListenPort, v)
		}
		o.ListenPort = n
	}
	return nil
}

// LoadEnvFile loads deployment overrides from a .env file without
// replacing variables already present in the environment. A missing
// default file is not an error; a missing explicit file is.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	log.Debug().Str("file", path).Msg("Loaded .env file for deployment overrides")
	return nil
}

func configError(op, format string, args ...interface{}) error {
	return internalerrors.New(internalerrors.KindConfig, op,
		fmt.Errorf("%w: %s", internalerrors.ErrInvalidInput, fmt.Sprintf(format, args...)))
}
