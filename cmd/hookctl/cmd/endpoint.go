package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var (
	endpointName   string
	endpointURL    string
	endpointSecret string
	endpointEvents []string
	endpointTenant string
	endpointLimit  int
)

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage webhook endpoints",
}

var endpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new webhook endpoint",
	Example: `  hookctl endpoint create --url https://example.com/hook --events order.created,order.paid
  hookctl endpoint create --url https://example.com/hook --events user.created --tenant acme`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if endpointURL == "" {
			return fmt.Errorf("--url is required")
		}
		if len(endpointEvents) == 0 {
			return fmt.Errorf("--events is required")
		}

		body := map[string]any{
			"name":   endpointName,
			"url":    endpointURL,
			"events": endpointEvents,
		}
		if endpointSecret != "" {
			body["secret"] = endpointSecret
		}
		if endpointTenant != "" {
			body["tenant_id"] = endpointTenant
		}

		var out map[string]any
		if err := makeRequest(http.MethodPost, "/api/v1/endpoints", body, &out); err != nil {
			return err
		}
		if !outputJSON {
			fmt.Printf("Endpoint created: %v\n", out["id"])
			fmt.Printf("Secret (shown once): %v\n", out["secret"])
			return nil
		}
		printOutput(out)
		return nil
	},
}

var endpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/endpoints"
		if endpointLimit > 0 {
			path = fmt.Sprintf("%s?limit=%d", path, endpointLimit)
		}
		var out map[string]any
		if err := makeRequest(http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var endpointGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodGet, "/api/v1/endpoints/"+strings.TrimSpace(args[0]), nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

var endpointDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Deactivate an endpoint so it receives no further deliveries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := makeRequest(http.MethodPost, "/api/v1/endpoints/"+strings.TrimSpace(args[0])+"/deactivate", nil, &out); err != nil {
			return err
		}
		printOutput(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(endpointCreateCmd)
	endpointCmd.AddCommand(endpointListCmd)
	endpointCmd.AddCommand(endpointGetCmd)
	endpointCmd.AddCommand(endpointDeactivateCmd)

	endpointCreateCmd.Flags().StringVar(&endpointName, "name", "", "endpoint display name")
	endpointCreateCmd.Flags().StringVar(&endpointURL, "url", "", "receiver URL (required)")
	endpointCreateCmd.Flags().StringVar(&endpointSecret, "secret", "", "signing secret (generated when omitted)")
	endpointCreateCmd.Flags().StringSliceVar(&endpointEvents, "events", nil, "subscribed event types (required)")
	endpointCreateCmd.Flags().StringVar(&endpointTenant, "tenant", "", "tenant scope (global when omitted)")

	endpointListCmd.Flags().IntVar(&endpointLimit, "limit", 0, "max endpoints to return")
}
