package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deliveryStatus   string
	deliveryEndpoint string
	deliveryEvent    string
	deliveryLimit    int
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect and replay deliveries",
}

var deliveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliveries from the ledger",
	Example: `  hookctl delivery list --status failed
  hookctl delivery list --endpoint 6b4a... --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if deliveryStatus != "" {
			q.Set("status", deliveryStatus)
		}
		if deliveryEndpoint != "" {
			q.Set("endpoint_id", deliveryEndpoint)
		}
		if deliveryEvent != "" {
			q.Set("event_id", deliveryEvent)
		}
		if deliveryLimit > 0 {
			q.Set("limit", fmt.Sprintf("%d", deliveryLimit))
		}

		path := "/api/v1/deliveries"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var out map[string]any
		if err := makeRequest(http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var deliveryGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodGet, "/api/v1/deliveries/"+strings.TrimSpace(args[0]), nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var deliveryReplayCmd = &cobra.Command{
	Use:   "replay <id>",
	Short: "Replay a delivery with its original payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/api/v1/deliveries/"+strings.TrimSpace(args[0])+"/replay", nil, &out); err != nil {
			return err
		}
		if !outputJSON {
			fmt.Printf("Replay created: %v\n", out["id"])
			return nil
		}
		printOutput(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(deliveryListCmd)
	deliveryCmd.AddCommand(deliveryGetCmd)
	deliveryCmd.AddCommand(deliveryReplayCmd)

	deliveryListCmd.Flags().StringVar(&deliveryStatus, "status", "", "filter by status (pending, inflight, retrying, success, failed, abandoned)")
	deliveryListCmd.Flags().StringVar(&deliveryEndpoint, "endpoint", "", "filter by endpoint id")
	deliveryListCmd.Flags().StringVar(&deliveryEvent, "event", "", "filter by event id")
	deliveryListCmd.Flags().IntVar(&deliveryLimit, "limit", 0, "max deliveries to return")
}
