package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var deadLetterLimit int

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect dead letters",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliveries that exhausted their retry budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/dead-letters"
		if deadLetterLimit > 0 {
			path = fmt.Sprintf("%s?limit=%d", path, deadLetterLimit)
		}
		var out map[string]any
		if err := makeRequest(http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deadLetterCmd)
	deadLetterCmd.AddCommand(deadLetterListCmd)

	deadLetterListCmd.Flags().IntVar(&deadLetterLimit, "limit", 0, "max dead letters to return")
}
