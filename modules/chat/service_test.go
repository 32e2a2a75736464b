package chat

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domain "github.com/example/chat-backend/domain/chat"
	"github.com/example/chat-backend/modules/storage"
)

// setupTestService builds a Service over an in-memory SQLite store and a
// fresh registry. The event bus is nil: the archive publish is skipped.
func setupTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&storage.User{}, &storage.Room{}, &storage.Message{}, &storage.ArchivedMessage{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewService(storage.NewStore(db), NewRegistry(), NewSessions(), nil)
}

func TestService_Join_DuplicateUsername(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	if _, err := service.Join(ctx, "conn-1", "alice", 1); err != nil {
		t.Fatalf("first Join() error = %v", err)
	}

	// Second connection, same username, same room: rejected, nothing bound.
	if _, err := service.Join(ctx, "conn-2", "alice", 1); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
	if _, ok := service.Lookup("conn-2"); ok {
		t.Error("rejected join must not bind a session")
	}

	// The first connection is unaffected.
	sess, ok := service.Lookup("conn-1")
	if !ok || sess.Username != "alice" || sess.RoomID != 1 {
		t.Errorf("first session disturbed: %+v ok=%v", sess, ok)
	}
}

func TestService_Join_EmptyUsername(t *testing.T) {
	service := setupTestService(t)

	if _, err := service.Join(context.Background(), "conn-1", "   ", 1); !errors.Is(err, domain.ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent, got %v", err)
	}
}

func TestService_Disconnect_RemovesExactlyOneEntry(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	if _, err := service.Join(ctx, "conn-1", "alice", 1); err != nil {
		t.Fatalf("Join(room 1) error = %v", err)
	}
	if _, err := service.Join(ctx, "conn-2", "alice", 2); err != nil {
		t.Fatalf("Join(room 2) error = %v", err)
	}

	sess, ok := service.Disconnect("conn-1")
	if !ok {
		t.Fatal("Disconnect() should report the held session")
	}
	if sess.RoomID != 1 || sess.Username != "alice" {
		t.Errorf("unexpected session %+v", sess)
	}

	// Room 1 slot is free again; room 2 is still held.
	if _, err := service.Join(ctx, "conn-3", "alice", 1); err != nil {
		t.Errorf("room 1 slot should be free after disconnect: %v", err)
	}
	if _, err := service.Join(ctx, "conn-4", "alice", 2); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Errorf("room 2 entry must survive the other connection's disconnect, got %v", err)
	}

	// Disconnecting an unknown connection reports no session.
	if _, ok := service.Disconnect("conn-unknown"); ok {
		t.Error("Disconnect() of unknown connection should report nothing")
	}
}

func TestService_Post_RoundTripWithHistory(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	created, err := service.Post(ctx, "alice", 7, "hello room", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if created.Content == nil || *created.Content != "hello room" {
		t.Fatalf("created view content = %v", created.Content)
	}

	history, err := service.History(ctx, 7, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history.Messages) != 1 {
		t.Fatalf("expected 1 message in history, got %d", len(history.Messages))
	}

	// The creation echo and the history row must agree field by field.
	got := history.Messages[0]
	if got.ID != created.ID || got.Username != created.Username {
		t.Errorf("identity mismatch: history %+v, created %+v", got, created)
	}
	if got.Content == nil || *got.Content != *created.Content {
		t.Errorf("content mismatch: history %v, created %v", got.Content, created.Content)
	}
	if got.RepliedTo != nil || created.RepliedTo != nil {
		t.Errorf("unexpected reply linkage")
	}
	if len(history.Users) != 1 || history.Users[0] != "alice" {
		t.Errorf("expected roster [alice], got %v", history.Users)
	}
}

func TestService_Post_EmptyContent(t *testing.T) {
	service := setupTestService(t)

	for _, content := range []string{"", "   ", "\t\n"} {
		if _, err := service.Post(context.Background(), "alice", 1, content, nil); !errors.Is(err, domain.ErrInvalidContent) {
			t.Errorf("Post(%q) expected ErrInvalidContent, got %v", content, err)
		}
	}
}

func TestService_Post_ReplyToDeletedParent(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	parent, err := service.Post(ctx, "alice", 3, "parent", nil)
	if err != nil {
		t.Fatalf("Post(parent) error = %v", err)
	}
	if err := service.Delete(ctx, parent.ID, "alice"); err != nil {
		t.Fatalf("Delete(parent) error = %v", err)
	}

	reply, err := service.Post(ctx, "bob", 3, "replying into the void", &parent.ID)
	if err != nil {
		t.Fatalf("Post(reply) error = %v", err)
	}
	if !reply.ReplyDeleted {
		t.Error("expected reply_deleted=true for soft-deleted parent")
	}
	if reply.ReplyText != nil || reply.ReplyUser != nil {
		t.Error("soft-deleted parent must not leak text or author")
	}
}

func TestService_Post_DanglingParentStoredVerbatim(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	missing := uint(4242)
	reply, err := service.Post(ctx, "alice", 3, "reply to nothing", &missing)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if reply.RepliedTo == nil || *reply.RepliedTo != missing {
		t.Errorf("replied_to must be stored verbatim, got %v", reply.RepliedTo)
	}
	if reply.ReplyText != nil || reply.ReplyUser != nil || reply.ReplyDeleted {
		t.Errorf("dangling parent must resolve to an empty preview, got %+v", reply)
	}
}

func TestService_Edit_AuthorizationMatrix(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	created, err := service.Post(ctx, "alice", 7, "first", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	if _, err := service.Edit(ctx, created.ID, "bob", "rewritten"); !errors.Is(err, domain.ErrUnauthorizedOrNotFound) {
		t.Fatalf("non-author edit: expected ErrUnauthorizedOrNotFound, got %v", err)
	}

	edited, err := service.Edit(ctx, created.ID, "alice", "second")
	if err != nil {
		t.Fatalf("author edit error = %v", err)
	}
	if edited.Content == nil || *edited.Content != "second" {
		t.Errorf("expected edited content %q, got %v", "second", edited.Content)
	}
	if edited.EditedAt == nil {
		t.Error("edit must stamp the modification time")
	}

	if _, err := service.Edit(ctx, created.ID, "alice", " "); !errors.Is(err, domain.ErrInvalidContent) {
		t.Errorf("whitespace edit: expected ErrInvalidContent, got %v", err)
	}
}

func TestService_Children(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	parent, err := service.Post(ctx, "alice", 4, "root", nil)
	if err != nil {
		t.Fatalf("Post(root) error = %v", err)
	}
	reply, err := service.Post(ctx, "bob", 4, "child", &parent.ID)
	if err != nil {
		t.Fatalf("Post(child) error = %v", err)
	}

	children, err := service.Children(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 1 || children[0] != reply.ID {
		t.Errorf("expected children [%d], got %v", reply.ID, children)
	}
}
