package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	eventType     string
	eventData     string
	eventTenant   string
	eventIdemKey  string
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Emit events",
}

var eventEmitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Emit an event to all subscribed endpoints",
	Example: `  hookctl event emit --type order.created --data '{"order_id": 42}'
  hookctl event emit --type user.created --data '{"id": 7}' --idempotency-key user-7-created`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventType == "" {
			return fmt.Errorf("--type is required")
		}

		data := json.RawMessage("{}")
		if eventData != "" {
			if !json.Valid([]byte(eventData)) {
				return fmt.Errorf("--data must be valid JSON")
			}
			data = json.RawMessage(eventData)
		}

		body := map[string]any{
			"event_type": eventType,
			"data":       data,
		}
		if eventTenant != "" {
			body["tenant_id"] = eventTenant
		}
		if eventIdemKey != "" {
			body["idempotency_key"] = eventIdemKey
		}

		var out map[string]any
		if err := makeRequest(http.MethodPost, "/api/v1/events", body, &out); err != nil {
			return err
		}
		if !outputJSON {
			if dup, _ := out["duplicate"].(bool); dup {
				fmt.Printf("Duplicate event %v, no deliveries created\n", out["event_id"])
				return nil
			}
			fmt.Printf("Event %v emitted, fan-out %v\n", out["event_id"], out["fan_out"])
			return nil
		}
		printOutput(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(eventEmitCmd)

	eventEmitCmd.Flags().StringVar(&eventType, "type", "", "event type (required)")
	eventEmitCmd.Flags().StringVar(&eventData, "data", "", "event payload as JSON")
	eventEmitCmd.Flags().StringVar(&eventTenant, "tenant", "", "tenant the event belongs to")
	eventEmitCmd.Flags().StringVar(&eventIdemKey, "idempotency-key", "", "dedupe key, repeated emits create no new deliveries")
}
