package archiver

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/chat-backend/events"
	"github.com/example/chat-backend/modules/storage"
)

// Module consumes MessageStored events and writes archive rows.
type Module struct {
	storage   *storage.Module
	processor *Processor

	archived atomic.Uint64
	failed   atomic.Uint64
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.EventConsumerModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new archiver module.
func NewModule(storageModule *storage.Module) *Module {
	return &Module{
		storage: storageModule,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "archiver"
}

// RegisterEventConsumers subscribes to stored-message events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageStoredV1, m.handleMessageStored, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageStored consumer: %w", err)
	}

	log.Println("[archiver] Registered event consumers: MessageStored")
	return nil
}

// Start wires the processor to the storage module.
func (m *Module) Start(_ context.Context) error {
	m.processor = NewProcessor(m.storage.Store())
	log.Println("[archiver] Module started")
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	log.Printf("[archiver] Module stopped - archived=%d failed=%d", m.archived.Load(), m.failed.Load())
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"archived": m.archived.Load(),
			"failed":   m.failed.Load(),
		},
	}
}

// handleMessageStored archives one event. Errors are swallowed after
// logging so the bus never redelivers: the live message is already
// durable, this copy is best-effort.
func (m *Module) handleMessageStored(ctx context.Context, event events.MessageStoredEvent, _ *mono.Msg) error {
	if err := m.processor.Process(ctx, event); err != nil {
		m.failed.Add(1)
		log.Printf("[archiver] %v", err)
		return nil
	}
	m.archived.Add(1)
	return nil
}
