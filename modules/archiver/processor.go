// Package archiver persists message events through the fire-and-forget
// archival path, independently of the live lifecycle.
package archiver

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/example/chat-backend/events"
	"github.com/example/chat-backend/modules/storage"
)

// Processor writes archive rows for stored-message events. Failures are
// logged and dropped: this path is non-authoritative and never retried.
type Processor struct {
	store *storage.Store
}

// NewProcessor creates a new archive processor.
func NewProcessor(store *storage.Store) *Processor {
	return &Processor{store: store}
}

// Process archives one event. Blank usernames or content are skipped
// outright; the event carries no authorization to validate.
func (p *Processor) Process(ctx context.Context, event events.MessageStoredEvent) error {
	if strings.TrimSpace(event.Username) == "" || strings.TrimSpace(event.Content) == "" {
		log.Printf("[archiver] Skipping blank event for room %d", event.RoomID)
		return nil
	}

	id, err := p.store.ArchiveMessage(ctx, event.RoomID, event.Username, event.Content)
	if err != nil {
		return fmt.Errorf("failed to archive message for room %d: %w", event.RoomID, err)
	}

	log.Printf("[archiver] Archived message %d (room %d, user %s)", id, event.RoomID, event.Username)
	return nil
}
