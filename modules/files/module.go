package files

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-monolith/mono"
)

// Module provides attachment storage backed by NATS JetStream Object Store.
type Module struct {
	store   *JetStreamObjectStore
	service *Service
	natsURL string
	bucket  string
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new files module.
func NewModule() *Module {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	bucket := os.Getenv("NATS_BUCKET")
	if bucket == "" {
		bucket = "chat-uploads"
	}
	return &Module{
		natsURL: natsURL,
		bucket:  bucket,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "files"
}

// Start connects to NATS JetStream and prepares the bucket.
func (m *Module) Start(ctx context.Context) error {
	var err error
	m.store, err = NewJetStreamObjectStore(ctx, m.natsURL, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	m.service = NewService(m.store)

	log.Printf("[files] Module started (NATS: %s, bucket: %s)", m.natsURL, m.bucket)
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	if m.store != nil {
		m.store.Close()
	}
	log.Println("[files] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	healthy := m.store != nil && m.store.IsConnected()
	message := "connected"
	if !healthy {
		message = "disconnected"
	}
	return mono.HealthStatus{
		Healthy: healthy,
		Message: message,
		Details: map[string]any{
			"nats_url": m.natsURL,
			"bucket":   m.bucket,
		},
	}
}

// Service returns the file service for the gateway module to use.
func (m *Module) Service() *Service {
	return m.service
}
