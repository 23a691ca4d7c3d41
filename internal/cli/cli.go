// Package cli provides the command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/repodigest/internal/config"
	"github.com/temirov/repodigest/internal/ingest"
	"github.com/temirov/repodigest/internal/output"
	"github.com/temirov/repodigest/internal/query"
	"github.com/temirov/repodigest/internal/types"
	"github.com/temirov/repodigest/internal/utils"
)

const (
	includeFlagName           = "include"
	includeFlagShorthand      = "i"
	excludeFlagName           = "exclude"
	excludeFlagShorthand      = "e"
	branchFlagName            = "branch"
	branchFlagShorthand       = "b"
	subPathFlagName           = "subpath"
	tokenFlagName             = "token"
	maxSizeFlagName           = "max-size"
	maxSizeFlagShorthand      = "s"
	submodulesFlagName        = "submodules"
	includeGitIgnoredFlagName = "include-gitignored"
	outputFlagName            = "output"
	outputFlagShorthand       = "o"
	copyFlagName              = "copy"
	formatFlagName            = "format"
	showFilteredFlagName      = "show-filtered"
	configFlagName            = "config"
	logLevelFlagName          = "log-level"
	versionFlagName           = "version"

	tokenEnvironmentVariable = "GITHUB_TOKEN"
	defaultSource            = "."
	versionTemplate          = "repodigest version: %s\n"

	rootUse              = "repodigest [sources...]"
	rootShortDescription = "turn a repository or directory into an LLM-friendly digest"
	rootLongDescription  = `repodigest reads a local directory or a remote repository and prints a
digest made of a summary, a directory tree and the concatenated file contents.

A source is a local path, owner/repo, host/owner/repo or a repository URL,
optionally pointing into a branch, tag, commit or sub directory
(https://github.com/owner/repo/tree/v1.2.3/docs). Several sources are
ingested concurrently and printed in argument order.

The token for private repositories is read from --token or ` + tokenEnvironmentVariable + `.
The token estimate is approximate.`
	rootUsageExample = `  # Digest the current directory
  repodigest

  # Digest the docs directory of a tag, markdown files only
  repodigest https://github.com/owner/repo/tree/v1.2.3/docs -i '*.md'

  # Digest a private repository into a file
  GITHUB_TOKEN=... repodigest owner/private-repo -o digest.txt

  # Copy a JSON digest of two sources to the clipboard
  repodigest owner/a owner/b --format json --copy`

	includeFlagDescription           = "include only paths matching pattern (repeatable, comma separated)"
	excludeFlagDescription           = "exclude paths matching pattern (repeatable, comma separated)"
	branchFlagDescription            = "branch, tag or commit to ingest"
	subPathFlagDescription           = "directory or file inside the source to ingest"
	tokenFlagDescription             = "access token for private repositories (default $" + tokenEnvironmentVariable + ")"
	maxSizeFlagDescription           = "skip the content of files larger than this many bytes"
	submodulesFlagDescription        = "clone submodules of remote repositories"
	includeGitIgnoredFlagDescription = "do not apply .gitignore files"
	outputFlagDescription            = "write the digest to this file instead of stdout"
	copyFlagDescription              = "copy the digest to the clipboard"
	formatFlagDescription            = "output format: text or json"
	showFilteredFlagDescription      = "list filtered entries in the tree"
	configFlagDescription            = "configuration file (default ./config.yaml)"
	logLevelFlagDescription          = "log level: debug, info, warn or error"
	versionFlagDescription           = "display application version"

	errorMessageFormat          = "Error: %v\n"
	errorSourceMessageFormat    = "Error: %s: %v\n"
	hintMessageFormat           = "Hint: %s\n"
	warningMessageFormat        = "Warning: %s\n"
	warningCopyFailedFormat     = "copying to clipboard failed: %v"
	workingDirectoryErrorFormat = "unable to determine working directory: %w"
	errorLoadConfigFormat       = "load configuration: %w"
	errorLoggerFormat           = "initialize logger: %w"
	errorWriteOutputFormat      = "write %s: %w"
	invalidFormatMessage        = "invalid format value '%s'"
)

// errSourcesFailed is returned after the failing sources were reported.
var errSourcesFailed = errors.New("one or more sources failed")

// digestIngester is implemented by *ingest.Service.
type digestIngester interface {
	Ingest(ctx context.Context, descriptor string, overrides query.Overrides) (types.Digest, error)
}

// environment holds the process facing collaborators so that commands can
// run against buffers in tests.
type environment struct {
	stdout           io.Writer
	stderr           io.Writer
	workingDirectory func() (string, error)
	lookupEnv        func(string) (string, bool)
	copyToClipboard  func(string) error
	newIngester      func(ingest.Options) (digestIngester, error)
}

func defaultEnvironment() environment {
	return environment{
		stdout:           os.Stdout,
		stderr:           os.Stderr,
		workingDirectory: os.Getwd,
		lookupEnv:        os.LookupEnv,
		copyToClipboard:  clipboard.WriteAll,
		newIngester: func(options ingest.Options) (digestIngester, error) {
			return ingest.New(options)
		},
	}
}

// Execute runs the repodigest application. Errors are reported on stderr
// before they are returned.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	env := defaultEnvironment()
	rootCommand := createRootCommand(env)
	rootCommand.SetArgs(normalizeBooleanFlagArguments(rootCommand, os.Args[1:]))
	executionError := rootCommand.ExecuteContext(ctx)
	if executionError != nil && !errors.Is(executionError, errSourcesFailed) {
		reportError(env.stderr, "", executionError)
	}
	return executionError
}

// rootOptions stores the values of the root command flags.
type rootOptions struct {
	includePatterns   []string
	excludePatterns   []string
	branch            string
	subPath           string
	token             string
	maxSize           int64
	submodules        bool
	includeGitIgnored bool
	outputPath        string
	copy              bool
	format            string
	showFiltered      bool
	configPath        string
	logLevel          string
	showVersion       bool
}

// createRootCommand builds the root Cobra command.
func createRootCommand(env environment) *cobra.Command {
	var options rootOptions

	rootCommand := &cobra.Command{
		Use:           rootUse,
		Short:         rootShortDescription,
		Long:          rootLongDescription,
		Example:       rootUsageExample,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			if options.showVersion {
				fmt.Fprintf(env.stdout, versionTemplate, utils.GetApplicationVersion())
				return nil
			}
			if len(arguments) == 0 {
				arguments = []string{defaultSource}
			}
			return runIngest(command, env, options, arguments)
		},
	}
	rootCommand.SetOut(env.stdout)
	rootCommand.SetErr(env.stderr)

	flags := rootCommand.Flags()
	flags.StringArrayVarP(&options.includePatterns, includeFlagName, includeFlagShorthand, nil, includeFlagDescription)
	flags.StringArrayVarP(&options.excludePatterns, excludeFlagName, excludeFlagShorthand, nil, excludeFlagDescription)
	flags.StringVarP(&options.branch, branchFlagName, branchFlagShorthand, "", branchFlagDescription)
	flags.StringVar(&options.subPath, subPathFlagName, "", subPathFlagDescription)
	flags.StringVar(&options.token, tokenFlagName, "", tokenFlagDescription)
	flags.Int64VarP(&options.maxSize, maxSizeFlagName, maxSizeFlagShorthand, 0, maxSizeFlagDescription)
	registerBooleanFlag(flags, &options.submodules, submodulesFlagName, false, submodulesFlagDescription)
	registerBooleanFlag(flags, &options.includeGitIgnored, includeGitIgnoredFlagName, false, includeGitIgnoredFlagDescription)
	flags.StringVarP(&options.outputPath, outputFlagName, outputFlagShorthand, "", outputFlagDescription)
	registerBooleanFlag(flags, &options.copy, copyFlagName, false, copyFlagDescription)
	flags.StringVar(&options.format, formatFlagName, config.FormatText, formatFlagDescription)
	registerBooleanFlag(flags, &options.showFiltered, showFilteredFlagName, false, showFilteredFlagDescription)
	rootCommand.PersistentFlags().StringVar(&options.configPath, configFlagName, "", configFlagDescription)
	rootCommand.PersistentFlags().StringVar(&options.logLevel, logLevelFlagName, "", logLevelFlagDescription)
	rootCommand.PersistentFlags().BoolVar(&options.showVersion, versionFlagName, false, versionFlagDescription)

	rootCommand.AddCommand(createInitCommand(env))
	rootCommand.InitDefaultHelpCmd()
	rootCommand.InitDefaultCompletionCmd()
	return rootCommand
}

// resolveSettings merges configuration sources and the flags the user set.
func resolveSettings(command *cobra.Command, options rootOptions, workingDirectory string) (config.Settings, error) {
	applicationConfiguration, loadErr := config.LoadApplicationConfiguration(config.LoadOptions{
		WorkingDirectory: workingDirectory,
		ExplicitFilePath: options.configPath,
	})
	if loadErr != nil {
		return config.Settings{}, fmt.Errorf(errorLoadConfigFormat, loadErr)
	}
	flags := command.Flags()
	if flags.Changed(formatFlagName) {
		applicationConfiguration.Output.Format = strings.ToLower(strings.TrimSpace(options.format))
	}
	if flags.Changed(copyFlagName) {
		applicationConfiguration.Output.Copy = &options.copy
	}
	if flags.Changed(showFilteredFlagName) {
		applicationConfiguration.Output.ShowFiltered = &options.showFiltered
	}
	if flags.Changed(logLevelFlagName) {
		applicationConfiguration.LogLevel = options.logLevel
	}
	return applicationConfiguration.Resolve()
}

func runIngest(command *cobra.Command, env environment, options rootOptions, sources []string) error {
	workingDirectory, workingDirectoryError := env.workingDirectory()
	if workingDirectoryError != nil {
		return fmt.Errorf(workingDirectoryErrorFormat, workingDirectoryError)
	}
	settings, settingsErr := resolveSettings(command, options, workingDirectory)
	if settingsErr != nil {
		return settingsErr
	}
	logger, loggerErr := utils.NewApplicationLogger(settings.LogLevel)
	if loggerErr != nil {
		return fmt.Errorf(errorLoggerFormat, loggerErr)
	}
	defer func() { _ = logger.Sync() }()

	var stderrMutex sync.Mutex
	warn := func(message string) {
		stderrMutex.Lock()
		defer stderrMutex.Unlock()
		fmt.Fprintf(env.stderr, warningMessageFormat, message)
	}

	ingester, ingesterErr := env.newIngester(ingest.Options{
		Settings:         settings,
		WorkingDirectory: workingDirectory,
		Warn:             warn,
		Logger:           logger,
	})
	if ingesterErr != nil {
		return ingesterErr
	}

	overrides := buildOverrides(options, env)
	if len(options.includePatterns) > 0 && len(options.excludePatterns) > 0 {
		warn("both include and exclude patterns given; exclude patterns are ignored")
	}

	digests, failures := ingestAll(command.Context(), ingester, sources, overrides, settings.Clone.MaxConcurrent, logger)
	for index, failure := range failures {
		if failure == nil {
			continue
		}
		stderrMutex.Lock()
		label := ""
		if len(sources) > 1 {
			label = sources[index]
		}
		reportError(env.stderr, label, failure)
		stderrMutex.Unlock()
	}

	if len(digests) > 0 {
		rendered, renderErr := renderDigests(digests, settings.OutputFormat)
		if renderErr != nil {
			return renderErr
		}
		if writeErr := writeOutput(env, options.outputPath, rendered); writeErr != nil {
			return writeErr
		}
		if settings.Copy {
			if copyErr := env.copyToClipboard(rendered); copyErr != nil {
				warn(fmt.Sprintf(warningCopyFailedFormat, copyErr))
			}
		}
	}

	for _, failure := range failures {
		if failure != nil {
			return errSourcesFailed
		}
	}
	return nil
}

func buildOverrides(options rootOptions, env environment) query.Overrides {
	token := options.token
	if token == "" {
		if environmentToken, found := env.lookupEnv(tokenEnvironmentVariable); found {
			token = strings.TrimSpace(environmentToken)
		}
	}
	return query.Overrides{
		Branch:            options.branch,
		SubPath:           options.subPath,
		IncludePatterns:   options.includePatterns,
		ExcludePatterns:   options.excludePatterns,
		MaxFileSizeBytes:  options.maxSize,
		IncludeSubmodules: options.submodules,
		IncludeGitIgnored: options.includeGitIgnored,
		Token:             types.NewSecret(token),
	}
}

// ingestAll ingests sources with at most limit running at once. Results are
// indexed like sources; a failing source does not cancel the others.
func ingestAll(ctx context.Context, ingester digestIngester, sources []string, overrides query.Overrides, limit int, logger *zap.Logger) ([]types.Digest, []error) {
	results := make([]*types.Digest, len(sources))
	failures := make([]error, len(sources))

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	for index, source := range sources {
		group.Go(func() error {
			digest, err := ingester.Ingest(ctx, source, overrides)
			if err != nil {
				failures[index] = err
				return nil
			}
			results[index] = &digest
			return nil
		})
	}
	_ = group.Wait()

	digests := make([]types.Digest, 0, len(sources))
	for _, result := range results {
		if result != nil {
			digests = append(digests, *result)
		}
	}
	logger.Debug("sources ingested", zap.Int("sources", len(sources)), zap.Int("succeeded", len(digests)))
	return digests, failures
}

func renderDigests(digests []types.Digest, format string) (string, error) {
	switch format {
	case config.FormatJSON:
		return output.RenderJSONList(digests)
	case config.FormatText:
		rendered := make([]string, 0, len(digests))
		for _, digest := range digests {
			rendered = append(rendered, output.RenderText(digest))
		}
		return strings.Join(rendered, "\n"), nil
	default:
		return "", fmt.Errorf(invalidFormatMessage, format)
	}
}

func writeOutput(env environment, outputPath, rendered string) error {
	if outputPath == "" {
		_, writeErr := io.WriteString(env.stdout, rendered)
		return writeErr
	}
	if writeErr := os.WriteFile(outputPath, []byte(rendered), 0o644); writeErr != nil {
		return fmt.Errorf(errorWriteOutputFormat, outputPath, writeErr)
	}
	return nil
}

func reportError(writer io.Writer, label string, err error) {
	if label != "" {
		fmt.Fprintf(writer, errorSourceMessageFormat, label, err)
	} else {
		fmt.Fprintf(writer, errorMessageFormat, err)
	}
	if hint := types.HintOf(err); hint != "" {
		fmt.Fprintf(writer, hintMessageFormat, hint)
	}
}
