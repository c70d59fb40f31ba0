package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Download an object to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := objects.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer body.Close()

		var dst io.Writer = cmd.OutOrStdout()
		if getOutput != "" && getOutput != "-" {
			f, err := os.Create(getOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			dst = f
		}

		_, err = io.Copy(dst, body)
		return err
	},
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write to this file instead of stdout")
}
