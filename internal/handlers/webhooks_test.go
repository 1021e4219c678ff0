package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/signature"
	"github.com/verifid/webhook-relay/internal/store"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.InboundEvent{},
		&models.StatusUpdate{},
		&models.Subscription{},
		&models.OutboundDelivery{},
		&models.DeliveryAttemptLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}

	return db
}

func newWebhookTestApp(t *testing.T, db *gorm.DB, secret string) *fiber.App {
	t.Helper()

	handler := NewWebhookHandler(
		store.NewEventStore(db),
		nil,
		&config.WebhookConfig{Secret: secret},
		&config.DeliveryConfig{StatusQueue: "status_updates"},
		zap.NewNop(),
	)

	app := fiber.New()
	app.Post("/api/v1/webhooks/verification", handler.HandleVerificationWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, sig string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/verification", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func validWebhookBody(t *testing.T, eventType string) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"event_type": eventType,
		"user_id":    "usr_123",
		"vai_number": "VAI-2024-001",
		"timestamp":  "2026-08-30T10:00:00Z",
		"data":       map[string]interface{}{"status": "suspended"},
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return body
}

func TestHandleVerificationWebhook_ValidSignature(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "top-secret")

	body := validWebhookBody(t, "user.vai_suspended")
	resp := postWebhook(t, app, body, signature.SignInbound(body, "top-secret"))

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}

	var parsed struct {
		Success bool   `json:"success"`
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !parsed.Success || parsed.EventID == "" {
		t.Fatalf("unexpected response: %+v", parsed)
	}

	var event models.InboundEvent
	if err := db.First(&event, "id = ?", parsed.EventID).Error; err != nil {
		t.Fatalf("event row not stored: %v", err)
	}
	if !event.Processed || event.ProcessedAt == nil {
		t.Fatal("event should be marked processed")
	}
	if event.Signature == nil {
		t.Fatal("presented signature should be stored")
	}

	var updates []models.StatusUpdate
	if err := db.Where("event_id = ?", event.ID).Find(&updates).Error; err != nil {
		t.Fatalf("failed to query status updates: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 derived status update, got %d", len(updates))
	}
	if updates[0].StatusType != string(models.UserVAISuspended) {
		t.Fatalf("unexpected status_type %q", updates[0].StatusType)
	}
}

func TestHandleVerificationWebhook_InvalidSignature(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "top-secret")

	body := validWebhookBody(t, "user.status_changed")
	resp := postWebhook(t, app, body, signature.SignInbound(body, "wrong-secret"))

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	var parsed map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if parsed["error"] != "Invalid signature" {
		t.Fatalf("unexpected error message: %q", parsed["error"])
	}

	var count int64
	if err := db.Model(&models.InboundEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 0 {
		t.Fatal("rejected webhook must not be stored")
	}
}

func TestHandleVerificationWebhook_MissingSignatureAccepted(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "top-secret")

	body := validWebhookBody(t, "user.account_updated")
	resp := postWebhook(t, app, body, "")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for an unsigned webhook, got %d", resp.StatusCode)
	}

	var event models.InboundEvent
	if err := db.First(&event).Error; err != nil {
		t.Fatalf("event row not stored: %v", err)
	}
	if event.Signature != nil {
		t.Fatal("unsigned webhook must store no signature")
	}
}

func TestHandleVerificationWebhook_NoSecretConfigured(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "")

	body := validWebhookBody(t, "user.vai_revoked")
	resp := postWebhook(t, app, body, "whatever")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 when no secret is configured, got %d", resp.StatusCode)
	}
}

func TestHandleVerificationWebhook_UnknownEventType(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "")

	body := validWebhookBody(t, "user.deleted")
	resp := postWebhook(t, app, body, "")

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var count int64
	if err := db.Model(&models.InboundEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 0 {
		t.Fatal("unknown event type must not be stored")
	}
}

func TestHandleVerificationWebhook_MissingRequiredFields(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "")

	body, _ := json.Marshal(map[string]interface{}{
		"event_type": "user.status_changed",
		"data":       map[string]interface{}{"status": "active"},
	})
	resp := postWebhook(t, app, body, "")

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleVerificationWebhook_DeriveFailure(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "")

	err := db.Exec(`CREATE TRIGGER block_status_inserts BEFORE INSERT ON status_updates
		BEGIN SELECT RAISE(ABORT, 'insert blocked'); END`).Error
	if err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	body := validWebhookBody(t, "user.status_changed")
	resp := postWebhook(t, app, body, "")

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	var parsed map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if parsed["error"] != "Failed to derive status update" {
		t.Fatalf("unexpected error message: %q", parsed["error"])
	}
	if parsed["details"] == "" {
		t.Fatal("500 response should carry details")
	}

	// The ingested event survives for reconciliation, unprocessed
	var event models.InboundEvent
	if err := db.First(&event).Error; err != nil {
		t.Fatalf("event row not stored: %v", err)
	}
	if event.Processed || event.ProcessedAt != nil {
		t.Fatal("event must remain unprocessed after a failed derive")
	}
}

func TestHandleVerificationWebhook_MalformedJSON(t *testing.T) {
	db := newHandlerTestDB(t)
	app := newWebhookTestApp(t, db, "")

	resp := postWebhook(t, app, []byte(`{"event_type":`), "")

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
