package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/models"
	"github.com/verifid/webhook-relay/internal/store"
)

func newDispatcherTestDB(t *testing.T) *gorm.DB {
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
	)
	if err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}

	return db
}

func newTestDispatcher(t *testing.T, db *gorm.DB) *Dispatcher {
	t.Helper()

	cfg := &config.DeliveryConfig{
		StatusQueue:        "status_updates",
		DeliveryExchange:   "deliveries",
		DeliveryRoutingKey: "delivery",
		MaxAttempts:        5,
	}
	return NewDispatcher(cfg, nil, store.NewEventStore(db), store.NewDeliveryStore(db), zap.NewNop())
}

func stageStatusUpdate(t *testing.T, db *gorm.DB) models.StatusUpdate {
	t.Helper()
	ctx := context.Background()

	events := store.NewEventStore(db)
	eventID, err := events.Ingest(ctx, models.UserVAIRevoked, "u-1", "VAI-001",
		map[string]interface{}{"user_id": "u-1"}, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	updateID, err := events.DeriveStatus(ctx, eventID, "VAI-001", models.UserVAIRevoked,
		map[string]interface{}{"status": "revoked"})
	if err != nil {
		t.Fatalf("DeriveStatus: %v", err)
	}

	update, err := events.GetStatusUpdate(ctx, updateID)
	if err != nil {
		t.Fatalf("GetStatusUpdate: %v", err)
	}
	return *update
}

func addSubscription(t *testing.T, db *gorm.DB, url string) models.Subscription {
	t.Helper()

	sub := models.Subscription{
		ID:     uuid.New(),
		URL:    url,
		Secret: "sub-secret",
		Active: true,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}
	return sub
}

func statusUpdateMessage(t *testing.T, id uuid.UUID) []byte {
	t.Helper()

	body, err := json.Marshal(models.StatusUpdateMessage{StatusUpdateID: id.String()})
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}
	return body
}

func TestDispatcher_FansOutToAllActiveSubscriptions(t *testing.T) {
	db := newDispatcherTestDB(t)
	d := newTestDispatcher(t, db)
	update := stageStatusUpdate(t, db)

	addSubscription(t, db, "http://one.test/hooks")
	addSubscription(t, db, "http://two.test/hooks")

	if err := d.HandleMessage(statusUpdateMessage(t, update.ID)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	var rows []models.OutboundDelivery
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("failed to query deliveries: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 delivery rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Status != models.DeliveryStatusPending {
			t.Fatalf("expected pending, got %q", row.Status)
		}
		if row.StatusUpdateID != update.ID {
			t.Fatalf("delivery references update %s, want %s", row.StatusUpdateID, update.ID)
		}
		if row.Payload["vai_number"] != update.VAINumber {
			t.Fatalf("payload missing vai_number: %v", row.Payload)
		}
	}
}

func TestDispatcher_CreateFailureDoesNotDiscardMessage(t *testing.T) {
	db := newDispatcherTestDB(t)
	d := newTestDispatcher(t, db)
	update := stageStatusUpdate(t, db)

	addSubscription(t, db, "http://one.test/hooks")
	addSubscription(t, db, "http://two.test/hooks")

	// Every create fails once the table is gone. The handler must swallow
	// the failures so the message is acked instead of nacked and dropped.
	if err := db.Migrator().DropTable(&models.OutboundDelivery{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	if err := d.HandleMessage(statusUpdateMessage(t, update.ID)); err != nil {
		t.Fatalf("create failures must not fail the message: %v", err)
	}
}

func TestDispatcher_NoActiveSubscriptions(t *testing.T) {
	db := newDispatcherTestDB(t)
	d := newTestDispatcher(t, db)
	update := stageStatusUpdate(t, db)

	if err := d.HandleMessage(statusUpdateMessage(t, update.ID)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	var count int64
	if err := db.Model(&models.OutboundDelivery{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count deliveries: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no delivery rows, got %d", count)
	}
}

func TestDispatcher_MalformedMessageIsSwallowed(t *testing.T) {
	db := newDispatcherTestDB(t)
	d := newTestDispatcher(t, db)

	if err := d.HandleMessage([]byte(`{"status_update_id":`)); err != nil {
		t.Fatalf("malformed message must be swallowed, got %v", err)
	}
	if err := d.HandleMessage([]byte(`{"status_update_id":"not-a-uuid"}`)); err != nil {
		t.Fatalf("unparseable id must be swallowed, got %v", err)
	}
}

func TestDispatcher_UnknownStatusUpdateFailsMessage(t *testing.T) {
	db := newDispatcherTestDB(t)
	d := newTestDispatcher(t, db)

	if err := d.HandleMessage(statusUpdateMessage(t, uuid.New())); err == nil {
		t.Fatal("expected an error for an unknown status update")
	}
}
