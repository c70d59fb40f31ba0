package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:     "rm <key>...",
	Aliases: []string{"delete"},
	Short:   "Delete one or more objects",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, key := range args {
			if err := objects.Delete(cmd.Context(), key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
