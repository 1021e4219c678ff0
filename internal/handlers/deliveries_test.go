package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/store"
)

func newDeliveriesTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	handler := NewDeliveriesHandler(db, zap.NewNop())
	app := fiber.New()
	app.Get("/api/v1/deliveries", handler.GetDeliveries)
	return app
}

func seedDeliveries(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	ctx := context.Background()

	sub := models.Subscription{
		ID:     uuid.New(),
		URL:    "http://subscriber.test/hooks",
		Secret: "sub-secret",
		Active: true,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	s := store.NewDeliveryStore(db)
	for i := 0; i < n; i++ {
		if _, err := s.CreateDelivery(ctx, sub, uuid.New(),
			map[string]interface{}{"status_type": "user.status_changed"}, 5); err != nil {
			t.Fatalf("CreateDelivery: %v", err)
		}
	}
}

func getDeliveries(t *testing.T, app *fiber.App, query string) (int, DeliveriesResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries"+query, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	var parsed DeliveriesResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode, parsed
}

func TestGetDeliveries_Empty(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newDeliveriesTestApp(t, db)

	status, parsed := getDeliveries(t, app, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(parsed.Deliveries) != 0 || parsed.HasMore {
		t.Fatalf("expected an empty listing, got %+v", parsed)
	}
}

func TestGetDeliveries_Pagination(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newDeliveriesTestApp(t, db)
	seedDeliveries(t, db, 3)

	status, page := getDeliveries(t, app, "?limit=2")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(page.Deliveries) != 2 || !page.HasMore {
		t.Fatalf("expected 2 rows with has_more, got %d rows has_more=%v",
			len(page.Deliveries), page.HasMore)
	}

	status, page = getDeliveries(t, app, "?limit=2&offset=2")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(page.Deliveries) != 1 || page.HasMore {
		t.Fatalf("expected the final row without has_more, got %d rows has_more=%v",
			len(page.Deliveries), page.HasMore)
	}
}

func TestGetDeliveries_StatusFilter(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newDeliveriesTestApp(t, db)
	seedDeliveries(t, db, 2)

	// Move one row to delivered
	var first models.OutboundDelivery
	if err := db.First(&first).Error; err != nil {
		t.Fatalf("failed to load delivery: %v", err)
	}
	s := store.NewDeliveryStore(db)
	if err := s.RecordSuccess(context.Background(), first.ID); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	status, page := getDeliveries(t, app, "?status=delivered")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(page.Deliveries) != 1 {
		t.Fatalf("expected 1 delivered row, got %d", len(page.Deliveries))
	}
	if page.Deliveries[0].Status != models.DeliveryStatusDelivered {
		t.Fatalf("unexpected status %q", page.Deliveries[0].Status)
	}
	if page.Deliveries[0].NextAttemptAt != nil {
		t.Fatal("delivered row must expose no next attempt")
	}
}

func TestGetDeliveries_InvalidParams(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newDeliveriesTestApp(t, db)

	for _, query := range []string{"?limit=0", "?limit=abc", "?offset=-1"} {
		status, _ := getDeliveries(t, app, query)
		if status != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, status)
		}
	}
}

func TestGetDeliveries_LatestAttemptStatus(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newDeliveriesTestApp(t, db)
	seedDeliveries(t, db, 1)

	var d models.OutboundDelivery
	if err := db.First(&d).Error; err != nil {
		t.Fatalf("failed to load delivery: %v", err)
	}

	s := store.NewDeliveryStore(db)
	ctx := context.Background()
	for attempt, code := range map[int]int{1: 500, 2: 200} {
		status := code
		if err := s.CreateAttemptLog(ctx, d.ID, attempt,
			d.CreatedAt, d.CreatedAt, &status, nil, nil, nil); err != nil {
			t.Fatalf("CreateAttemptLog: %v", err)
		}
	}

	statusCode, page := getDeliveries(t, app, "")
	if statusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", statusCode)
	}
	if len(page.Deliveries) != 1 {
		t.Fatalf("expected 1 row, got %d", len(page.Deliveries))
	}
	got := page.Deliveries[0].HTTPStatus
	if got == nil || *got != 200 {
		t.Fatalf("expected latest attempt status 200, got %v", got)
	}
	if page.Deliveries[0].ID != d.ID.String() {
		t.Fatalf("unexpected delivery id %q", page.Deliveries[0].ID)
	}
}
