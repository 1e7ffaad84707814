package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spetersoncode/hanabi/config"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the active configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.DefaultPaths()
		if !paths.Exists() {
			fmt.Fprintln(cmd.OutOrStdout(), "no config file to remove")
			return nil
		}
		path := paths.Active()
		if err := paths.Remove(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
		return nil
	},
}
