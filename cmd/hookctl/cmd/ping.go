package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the api is reachable and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodGet, "/healthz", nil, &out); err != nil {
			return err
		}
		if !outputJSON {
			fmt.Println("ok")
			return nil
		}
		printOutput(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
