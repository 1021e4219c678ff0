package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/verifid/webhook-relay/internal/config"
	"github.com/verifid/webhook-relay/internal/rabbitmq"
	"github.com/verifid/webhook-relay/internal/scheduler"
	"github.com/verifid/webhook-relay/internal/store"
)

// Service holds all application dependencies.
// This eliminates global state and enables proper dependency injection.
type Service struct {
	DB         *gorm.DB
	Logger     *zap.Logger
	RMQ        *rabbitmq.Connection
	Config     *config.Config
	Events     *store.EventStore
	Deliveries *store.DeliveryStore
	Scheduler  *scheduler.Scheduler
}

// NewService creates a new service instance with all dependencies
func NewService(
	db *gorm.DB,
	logger *zap.Logger,
	rmq *rabbitmq.Connection,
	cfg *config.Config,
	events *store.EventStore,
	deliveries *store.DeliveryStore,
	sched *scheduler.Scheduler,
) *Service {
	return &Service{
		DB:         db,
		Logger:     logger,
		RMQ:        rmq,
		Config:     cfg,
		Events:     events,
		Deliveries: deliveries,
		Scheduler:  sched,
	}
}
