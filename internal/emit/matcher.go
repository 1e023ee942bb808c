package emit

import "github.com/hookwire/hookwire/internal/model"

// Match selects the endpoints an event fans out to. An endpoint matches when
// it is active, subscribes to the event type, and is either global (no tenant)
// or scoped to the event's tenant. An endpoint with an empty subscription list
// receives nothing.
func Match(endpoints []model.Endpoint, eventType string, tenantID *string) []model.Endpoint {
	var out []model.Endpoint
	for _, ep := range endpoints {
		if !ep.Active {
			continue
		}
		if !subscribed(ep.Events, eventType) {
			continue
		}
		if ep.TenantID != nil {
			if tenantID == nil || *ep.TenantID != *tenantID {
				continue
			}
		}
		out = append(out, ep)
	}
	return out
}

func subscribed(events []string, eventType string) bool {
	for _, e := range events {
		if e == eventType {
			return true
		}
	}
	return false
}
