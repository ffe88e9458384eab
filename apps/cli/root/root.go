package root

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the wimslti admin CLI. Subcommands (bootstrap, lms, wims) are attached here.
var rootCmd = &cobra.Command{
	Use:           "wimslti",
	Short:         "WIMS LTI bridge admin CLI",
	Long:          "Administrative utilities for the WIMS LTI bridge (schema bootstrap, LMS and WIMS server registration).",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
