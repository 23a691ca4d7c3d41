package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/temirov/repodigest/internal/utils"
)

const (
	// ConfigFileName is the configuration file looked up in the working and global directories.
	ConfigFileName = "config.yaml"
	// GlobalConfigDirectoryName is the directory under the user's home holding the global configuration.
	GlobalConfigDirectoryName = ".repodigest"
	// EnvironmentPrefix prefixes environment variables that override configuration keys.
	EnvironmentPrefix = "REPODIGEST"
)

// configurationKeys lists every key that can be overridden from the environment.
var configurationKeys = []string{
	"limits.max_file_size",
	"limits.max_directory_depth",
	"limits.max_files",
	"limits.max_total_size_bytes",
	"limits.max_output_bytes",
	"limits.traversal_timeout",
	"clone.timeout",
	"clone.max_concurrent",
	"clone.reject_when_busy",
	"clone.transport",
	"clone.temp_dir",
	"remote.default_host",
	"remote.max_retries",
	"remote.retry_max_elapsed",
	"tokens.model",
	"output.format",
	"output.show_filtered",
	"output.copy",
	"log_level",
}

// LoadOptions controls how application configuration is discovered.
type LoadOptions struct {
	WorkingDirectory string
	ExplicitFilePath string
	// SkipEnvironment disables REPODIGEST_* overrides.
	SkipEnvironment bool
}

// ApplicationConfiguration holds optional settings as read from configuration
// sources. Unset values stay nil or empty so that later sources only override
// what they declare. Resolve turns it into concrete Settings.
type ApplicationConfiguration struct {
	Limits   LimitsConfiguration `mapstructure:"limits"`
	Clone    CloneConfiguration  `mapstructure:"clone"`
	Remote   RemoteConfiguration `mapstructure:"remote"`
	Tokens   TokenConfiguration  `mapstructure:"tokens"`
	Output   OutputConfiguration `mapstructure:"output"`
	LogLevel string              `mapstructure:"log_level"`
}

// LimitsConfiguration configures traversal and output budgets.
type LimitsConfiguration struct {
	MaxFileSize       *int64         `mapstructure:"max_file_size"`
	MaxDirectoryDepth *int           `mapstructure:"max_directory_depth"`
	MaxFiles          *int           `mapstructure:"max_files"`
	MaxTotalSizeBytes *int64         `mapstructure:"max_total_size_bytes"`
	MaxOutputBytes    *int64         `mapstructure:"max_output_bytes"`
	TraversalTimeout  *time.Duration `mapstructure:"traversal_timeout"`
}

// CloneConfiguration configures the clone orchestrator.
type CloneConfiguration struct {
	Timeout        *time.Duration `mapstructure:"timeout"`
	MaxConcurrent  *int           `mapstructure:"max_concurrent"`
	RejectWhenBusy *bool          `mapstructure:"reject_when_busy"`
	Transport      string         `mapstructure:"transport"`
	TempDir        string         `mapstructure:"temp_dir"`
}

// RemoteConfiguration configures repository reference parsing and listing.
type RemoteConfiguration struct {
	DefaultHost     string         `mapstructure:"default_host"`
	MaxRetries      *int           `mapstructure:"max_retries"`
	RetryMaxElapsed *time.Duration `mapstructure:"retry_max_elapsed"`
}

// TokenConfiguration controls token estimation.
type TokenConfiguration struct {
	Model string `mapstructure:"model"`
}

// OutputConfiguration controls digest rendering.
type OutputConfiguration struct {
	Format       string `mapstructure:"format"`
	ShowFiltered *bool  `mapstructure:"show_filtered"`
	Copy         *bool  `mapstructure:"copy"`
}

// LoadApplicationConfiguration loads configuration from the global file, the
// local or explicit file and the environment, in increasing precedence.
func LoadApplicationConfiguration(options LoadOptions) (ApplicationConfiguration, error) {
	workingDirectory := options.WorkingDirectory
	if workingDirectory == "" {
		currentDirectory, err := os.Getwd()
		if err != nil {
			return ApplicationConfiguration{}, fmt.Errorf("determine working directory: %w", err)
		}
		workingDirectory = currentDirectory
	}

	var merged ApplicationConfiguration

	if homeDirectory, err := os.UserHomeDir(); err == nil && homeDirectory != "" {
		globalPath := filepath.Join(homeDirectory, GlobalConfigDirectoryName, ConfigFileName)
		globalConfig, loadErr := loadConfigurationFromPath(globalPath)
		if loadErr != nil {
			return ApplicationConfiguration{}, loadErr
		}
		merged = merged.Merge(globalConfig)
	}

	localPath := resolveLocalConfigPath(workingDirectory, options.ExplicitFilePath)
	if options.ExplicitFilePath != "" {
		if _, statErr := os.Stat(localPath); statErr != nil {
			return ApplicationConfiguration{}, fmt.Errorf("configuration file %s: %w", localPath, statErr)
		}
	}
	localConfig, loadErr := loadConfigurationFromPath(localPath)
	if loadErr != nil {
		return ApplicationConfiguration{}, loadErr
	}
	merged = merged.Merge(localConfig)

	if !options.SkipEnvironment {
		environmentConfig, environmentErr := loadConfigurationFromEnvironment()
		if environmentErr != nil {
			return ApplicationConfiguration{}, environmentErr
		}
		merged = merged.Merge(environmentConfig)
	}

	return merged, nil
}

func resolveLocalConfigPath(workingDirectory, explicitPath string) string {
	if explicitPath == "" {
		return filepath.Join(workingDirectory, ConfigFileName)
	}
	if filepath.IsAbs(explicitPath) {
		return explicitPath
	}
	return filepath.Join(workingDirectory, explicitPath)
}

func loadConfigurationFromPath(path string) (ApplicationConfiguration, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return ApplicationConfiguration{}, nil
		}
		return ApplicationConfiguration{}, fmt.Errorf("stat configuration %s: %w", path, statErr)
	}
	if info.IsDir() {
		return ApplicationConfiguration{}, fmt.Errorf("configuration path %s is a directory", path)
	}

	reader := viper.New()
	reader.SetConfigFile(path)
	if readErr := reader.ReadInConfig(); readErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("read configuration from %s: %w", path, readErr)
	}
	var config ApplicationConfiguration
	if decodeErr := reader.Unmarshal(&config); decodeErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("decode configuration from %s: %w", path, decodeErr)
	}
	return config, nil
}

func loadConfigurationFromEnvironment() (ApplicationConfiguration, error) {
	reader := viper.New()
	reader.SetEnvPrefix(EnvironmentPrefix)
	reader.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range configurationKeys {
		if bindErr := reader.BindEnv(key); bindErr != nil {
			return ApplicationConfiguration{}, fmt.Errorf("bind environment for %s: %w", key, bindErr)
		}
	}
	var config ApplicationConfiguration
	if decodeErr := reader.Unmarshal(&config); decodeErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("decode configuration from environment: %w", decodeErr)
	}
	return config, nil
}

// Merge overlays override onto the receiver returning the combined configuration.
func (config ApplicationConfiguration) Merge(override ApplicationConfiguration) ApplicationConfiguration {
	result := config
	result.Limits = result.Limits.merge(override.Limits)
	result.Clone = result.Clone.merge(override.Clone)
	result.Remote = result.Remote.merge(override.Remote)
	if override.Tokens.Model != "" {
		result.Tokens.Model = override.Tokens.Model
	}
	result.Output = result.Output.merge(override.Output)
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}
	return result
}

func (config LimitsConfiguration) merge(override LimitsConfiguration) LimitsConfiguration {
	result := config
	result.MaxFileSize = overlay(result.MaxFileSize, override.MaxFileSize)
	result.MaxDirectoryDepth = overlay(result.MaxDirectoryDepth, override.MaxDirectoryDepth)
	result.MaxFiles = overlay(result.MaxFiles, override.MaxFiles)
	result.MaxTotalSizeBytes = overlay(result.MaxTotalSizeBytes, override.MaxTotalSizeBytes)
	result.MaxOutputBytes = overlay(result.MaxOutputBytes, override.MaxOutputBytes)
	result.TraversalTimeout = overlay(result.TraversalTimeout, override.TraversalTimeout)
	return result
}

func (config CloneConfiguration) merge(override CloneConfiguration) CloneConfiguration {
	result := config
	result.Timeout = overlay(result.Timeout, override.Timeout)
	result.MaxConcurrent = overlay(result.MaxConcurrent, override.MaxConcurrent)
	result.RejectWhenBusy = overlay(result.RejectWhenBusy, override.RejectWhenBusy)
	if override.Transport != "" {
		result.Transport = override.Transport
	}
	if override.TempDir != "" {
		result.TempDir = override.TempDir
	}
	return result
}

func (config RemoteConfiguration) merge(override RemoteConfiguration) RemoteConfiguration {
	result := config
	if override.DefaultHost != "" {
		result.DefaultHost = override.DefaultHost
	}
	result.MaxRetries = overlay(result.MaxRetries, override.MaxRetries)
	result.RetryMaxElapsed = overlay(result.RetryMaxElapsed, override.RetryMaxElapsed)
	return result
}

func (config OutputConfiguration) merge(override OutputConfiguration) OutputConfiguration {
	result := config
	if override.Format != "" {
		result.Format = override.Format
	}
	result.ShowFiltered = overlay(result.ShowFiltered, override.ShowFiltered)
	result.Copy = overlay(result.Copy, override.Copy)
	return result
}

// overlay returns a copy of override when it is set and base otherwise.
func overlay[T any](base, override *T) *T {
	if override == nil {
		return base
	}
	cloned := *override
	return &cloned
}

// ResolvedLogLevel returns the configured level or the application default.
func (config ApplicationConfiguration) ResolvedLogLevel() string {
	if strings.TrimSpace(config.LogLevel) == "" {
		return utils.DefaultLogLevel
	}
	return config.LogLevel
}
