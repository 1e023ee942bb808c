package emit

import (
	"testing"

	"github.com/google/uuid"

	"github.com/hookwire/hookwire/internal/model"
)

func strptr(s string) *string { return &s }

func TestMatchByEventType(t *testing.T) {
	endpoints := []model.Endpoint{
		{ID: uuid.New(), URL: "https://a.example/hook", Events: []string{"order.created", "order.paid"}, Active: true},
		{ID: uuid.New(), URL: "https://b.example/hook", Events: []string{"user.created"}, Active: true},
		{ID: uuid.New(), URL: "https://c.example/hook", Events: []string{"order.created"}, Active: true},
	}

	matched := Match(endpoints, "order.created", nil)
	if len(matched) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matched))
	}
	for _, ep := range matched {
		if !subscribed(ep.Events, "order.created") {
			t.Errorf("matched endpoint %s does not subscribe to order.created", ep.URL)
		}
	}
}

func TestMatchSkipsInactive(t *testing.T) {
	endpoints := []model.Endpoint{
		{ID: uuid.New(), Events: []string{"order.created"}, Active: false},
		{ID: uuid.New(), Events: []string{"order.created"}, Active: true},
	}

	matched := Match(endpoints, "order.created", nil)
	if len(matched) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matched))
	}
	if !matched[0].Active {
		t.Error("inactive endpoint was matched")
	}
}

func TestMatchEmptySubscriptionReceivesNothing(t *testing.T) {
	endpoints := []model.Endpoint{
		{ID: uuid.New(), Events: nil, Active: true},
		{ID: uuid.New(), Events: []string{}, Active: true},
	}

	if matched := Match(endpoints, "order.created", nil); len(matched) != 0 {
		t.Errorf("expected no matches for empty subscription lists, got %d", len(matched))
	}
}

func TestMatchTenantScoping(t *testing.T) {
	global := model.Endpoint{ID: uuid.New(), Events: []string{"invoice.sent"}, Active: true}
	acme := model.Endpoint{ID: uuid.New(), Events: []string{"invoice.sent"}, TenantID: strptr("acme"), Active: true}
	globex := model.Endpoint{ID: uuid.New(), Events: []string{"invoice.sent"}, TenantID: strptr("globex"), Active: true}
	endpoints := []model.Endpoint{global, acme, globex}

	tests := []struct {
		name    string
		tenant  *string
		wantIDs []uuid.UUID
	}{
		{"event with tenant reaches scoped and global", strptr("acme"), []uuid.UUID{global.ID, acme.ID}},
		{"event without tenant reaches only global", nil, []uuid.UUID{global.ID}},
		{"unknown tenant reaches only global", strptr("initech"), []uuid.UUID{global.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := Match(endpoints, "invoice.sent", tt.tenant)
			if len(matched) != len(tt.wantIDs) {
				t.Fatalf("expected %d matches, got %d", len(tt.wantIDs), len(matched))
			}
			got := map[uuid.UUID]bool{}
			for _, ep := range matched {
				got[ep.ID] = true
			}
			for _, id := range tt.wantIDs {
				if !got[id] {
					t.Errorf("expected endpoint %s to match", id)
				}
			}
		})
	}
}

func TestMatchNoSubscribers(t *testing.T) {
	endpoints := []model.Endpoint{
		{ID: uuid.New(), Events: []string{"order.created"}, Active: true},
	}

	if matched := Match(endpoints, "nobody.subscribed", nil); len(matched) != 0 {
		t.Errorf("expected no matches, got %d", len(matched))
	}
}
