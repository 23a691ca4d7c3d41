package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temirov/repodigest/internal/config"
)

const (
	initUse              = "init"
	initShortDescription = "write a default configuration file"
	initLongDescription  = `Write a commented config.yaml with the built-in defaults into the
working directory, or into ~/.repodigest with --global.`
	globalFlagName        = "global"
	globalFlagDescription = "write the global configuration"
	forceFlagName         = "force"
	forceFlagDescription  = "overwrite an existing configuration file"
	initCompletedFormat   = "Configuration written to %s\n"
	errorInitConfigFormat = "initialize configuration: %w"
)

func createInitCommand(env environment) *cobra.Command {
	var global bool
	var force bool

	initCommand := &cobra.Command{
		Use:   initUse,
		Short: initShortDescription,
		Long:  initLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			workingDirectory, workingDirectoryError := env.workingDirectory()
			if workingDirectoryError != nil {
				return fmt.Errorf(workingDirectoryErrorFormat, workingDirectoryError)
			}
			target := config.InitTargetLocal
			if global {
				target = config.InitTargetGlobal
			}
			writtenPath, initErr := config.InitializeConfiguration(config.InitOptions{
				Target:           target,
				Force:            force,
				WorkingDirectory: workingDirectory,
			})
			if initErr != nil {
				return fmt.Errorf(errorInitConfigFormat, initErr)
			}
			fmt.Fprintf(env.stdout, initCompletedFormat, writtenPath)
			return nil
		},
	}
	registerBooleanFlag(initCommand.Flags(), &global, globalFlagName, false, globalFlagDescription)
	registerBooleanFlag(initCommand.Flags(), &force, forceFlagName, false, forceFlagDescription)
	return initCommand
}
