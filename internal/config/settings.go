package config

import (
	"errors"
	"fmt"
	"time"
)

// Default budgets and timeouts.
const (
	DefaultMaxFileSizeBytes    = 10 * 1024 * 1024
	DefaultMaxDirectoryDepth   = 20
	DefaultMaxFiles            = 10000
	DefaultMaxTotalSizeBytes   = 500 * 1024 * 1024
	DefaultMaxOutputBytes      = 50 * 1024 * 1024
	DefaultTraversalTimeout    = 120 * time.Second
	DefaultCloneTimeout        = 60 * time.Second
	DefaultMaxConcurrentClones = 4
	DefaultRemoteHost          = "github.com"
	DefaultRemoteMaxRetries    = 3
	DefaultRetryMaxElapsed     = 15 * time.Second
	DefaultTokenModel          = "gpt-4o"
)

// Transport names accepted by clone.transport.
const (
	TransportAuto    = "auto"
	TransportGit     = "git"
	TransportLibrary = "library"
)

// Output formats accepted by output.format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const errorInvalidSettingFormat = "invalid %s: %v"

// Limits are the traversal and output budgets of one process. The value is
// resolved once at start and passed to every ingestion.
type Limits struct {
	MaxFileSizeBytes  int64
	MaxDirectoryDepth int
	MaxFiles          int
	MaxTotalSizeBytes int64
	MaxOutputBytes    int64
	TraversalTimeout  time.Duration
}

// DefaultLimits returns the built-in budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSizeBytes:  DefaultMaxFileSizeBytes,
		MaxDirectoryDepth: DefaultMaxDirectoryDepth,
		MaxFiles:          DefaultMaxFiles,
		MaxTotalSizeBytes: DefaultMaxTotalSizeBytes,
		MaxOutputBytes:    DefaultMaxOutputBytes,
		TraversalTimeout:  DefaultTraversalTimeout,
	}
}

// Validate reports budgets that cannot be enforced.
func (limits Limits) Validate() error {
	var problems []error
	if limits.MaxFileSizeBytes <= 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "limits.max_file_size", limits.MaxFileSizeBytes))
	}
	if limits.MaxDirectoryDepth < 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "limits.max_directory_depth", limits.MaxDirectoryDepth))
	}
	if limits.MaxFiles <= 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "limits.max_files", limits.MaxFiles))
	}
	if limits.MaxTotalSizeBytes <= 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "limits.max_total_size_bytes", limits.MaxTotalSizeBytes))
	}
	if limits.MaxOutputBytes <= 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "limits.max_output_bytes", limits.MaxOutputBytes))
	}
	if limits.TraversalTimeout <= 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "limits.traversal_timeout", limits.TraversalTimeout))
	}
	return errors.Join(problems...)
}

// CloneSettings configures the clone orchestrator and its transport.
type CloneSettings struct {
	Timeout        time.Duration
	MaxConcurrent  int
	RejectWhenBusy bool
	Transport      string
	TempDir        string
}

// RemoteSettings configures descriptor parsing and reference listing.
type RemoteSettings struct {
	DefaultHost     string
	MaxRetries      int
	RetryMaxElapsed time.Duration
}

// Settings is the fully resolved configuration.
type Settings struct {
	Limits       Limits
	Clone        CloneSettings
	Remote       RemoteSettings
	TokenModel   string
	OutputFormat string
	ShowFiltered bool
	Copy         bool
	LogLevel     string
}

// DefaultSettings returns the settings used when no configuration is present.
func DefaultSettings() Settings {
	settings, _ := ApplicationConfiguration{}.Resolve()
	return settings
}

// Resolve applies defaults to unset values and validates the result.
func (config ApplicationConfiguration) Resolve() (Settings, error) {
	limits := Limits{
		MaxFileSizeBytes:  valueOr(config.Limits.MaxFileSize, DefaultMaxFileSizeBytes),
		MaxDirectoryDepth: valueOr(config.Limits.MaxDirectoryDepth, DefaultMaxDirectoryDepth),
		MaxFiles:          valueOr(config.Limits.MaxFiles, DefaultMaxFiles),
		MaxTotalSizeBytes: valueOr(config.Limits.MaxTotalSizeBytes, DefaultMaxTotalSizeBytes),
		MaxOutputBytes:    valueOr(config.Limits.MaxOutputBytes, DefaultMaxOutputBytes),
		TraversalTimeout:  valueOr(config.Limits.TraversalTimeout, DefaultTraversalTimeout),
	}
	settings := Settings{
		Limits: limits,
		Clone: CloneSettings{
			Timeout:        valueOr(config.Clone.Timeout, DefaultCloneTimeout),
			MaxConcurrent:  valueOr(config.Clone.MaxConcurrent, DefaultMaxConcurrentClones),
			RejectWhenBusy: valueOr(config.Clone.RejectWhenBusy, false),
			Transport:      stringOr(config.Clone.Transport, TransportAuto),
			TempDir:        config.Clone.TempDir,
		},
		Remote: RemoteSettings{
			DefaultHost:     stringOr(config.Remote.DefaultHost, DefaultRemoteHost),
			MaxRetries:      valueOr(config.Remote.MaxRetries, DefaultRemoteMaxRetries),
			RetryMaxElapsed: valueOr(config.Remote.RetryMaxElapsed, DefaultRetryMaxElapsed),
		},
		TokenModel:   stringOr(config.Tokens.Model, DefaultTokenModel),
		OutputFormat: stringOr(config.Output.Format, FormatText),
		ShowFiltered: valueOr(config.Output.ShowFiltered, false),
		Copy:         valueOr(config.Output.Copy, false),
		LogLevel:     config.ResolvedLogLevel(),
	}
	return settings, settings.Validate()
}

// Validate reports settings that cannot be used.
func (settings Settings) Validate() error {
	problems := []error{settings.Limits.Validate()}
	if settings.Clone.Timeout <= 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "clone.timeout", settings.Clone.Timeout))
	}
	if settings.Clone.MaxConcurrent <= 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "clone.max_concurrent", settings.Clone.MaxConcurrent))
	}
	switch settings.Clone.Transport {
	case TransportAuto, TransportGit, TransportLibrary:
	default:
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "clone.transport", settings.Clone.Transport))
	}
	if settings.Remote.MaxRetries < 0 {
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "remote.max_retries", settings.Remote.MaxRetries))
	}
	switch settings.OutputFormat {
	case FormatText, FormatJSON:
	default:
		problems = append(problems, fmt.Errorf(errorInvalidSettingFormat, "output.format", settings.OutputFormat))
	}
	return errors.Join(problems...)
}

func valueOr[T any](value *T, fallback T) T {
	if value == nil {
		return fallback
	}
	return *value
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
