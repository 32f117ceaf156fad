package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drew/muxbot/internal/toolchain"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show which external media tools are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		statuses := toolchain.Default().Health(cmd.Context())

		out := cmd.OutOrStdout()
		if toolsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(statuses)
		}
		for _, st := range statuses {
			if st.Available {
				fmt.Fprintf(out, "%-10s ok       %s\n", st.Tool, st.Version)
			} else {
				fmt.Fprintf(out, "%-10s missing  %s\n", st.Tool, st.Error)
			}
		}
		return nil
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print JSON")
}
