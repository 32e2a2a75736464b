package chat

import (
	"context"
	"log"

	"github.com/go-monolith/mono"

	"github.com/example/chat-backend/events"
	"github.com/example/chat-backend/modules/storage"
)

// Module wires the message lifecycle service into the application. It
// emits MessageStored events consumed by the archiver.
type Module struct {
	storage  *storage.Module
	registry Registry
	sessions *Sessions
	service  *Service
	bus      mono.EventBus
}

// Compile-time interface checks.
var (
	_ mono.Module              = (*Module)(nil)
	_ mono.EventBusAwareModule = (*Module)(nil)
	_ mono.EventEmitterModule  = (*Module)(nil)
)

// NewModule creates a new chat module backed by the given storage
// module. The storage module must be registered (and therefore started)
// before this one.
func NewModule(storageModule *storage.Module) *Module {
	return &Module{
		storage:  storageModule,
		registry: NewRegistry(),
		sessions: NewSessions(),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.bus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageStoredV1.ToBase(),
	}
}

// Start builds the lifecycle service over the started storage module.
func (m *Module) Start(_ context.Context) error {
	m.service = NewService(m.storage.Store(), m.registry, m.sessions, m.bus)
	log.Println("[chat] Module started")
	return nil
}

// Stop shuts down the module. Presence and sessions are volatile; there
// is nothing to flush.
func (m *Module) Stop(_ context.Context) error {
	log.Println("[chat] Module stopped")
	return nil
}

// Service returns the lifecycle manager. Only valid after Start.
func (m *Module) Service() *Service {
	return m.service
}
