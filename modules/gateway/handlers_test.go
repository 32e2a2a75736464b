package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domain "github.com/example/chat-backend/domain/chat"
	"github.com/example/chat-backend/modules/broadcast"
	"github.com/example/chat-backend/modules/chat"
	"github.com/example/chat-backend/modules/files"
	"github.com/example/chat-backend/modules/storage"
)

// memObjectStore is an in-memory ObjectStore for gateway tests.
type memObjectStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *memObjectStore) Put(_ context.Context, name string, data []byte, contentType string) (*files.ObjectInfo, error) {
	m.objects[name] = data
	m.types[name] = contentType
	return &files.ObjectInfo{Name: name, Size: uint64(len(data)), ContentType: contentType, ModTime: time.Now()}, nil
}

func (m *memObjectStore) Get(_ context.Context, name string) ([]byte, *files.ObjectInfo, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, nil, fmt.Errorf("object not found: %s", name)
	}
	return data, &files.ObjectInfo{Name: name, Size: uint64(len(data)), ContentType: m.types[name]}, nil
}

func (m *memObjectStore) Delete(_ context.Context, name string) error {
	delete(m.objects, name)
	delete(m.types, name)
	return nil
}

func (m *memObjectStore) List(_ context.Context) ([]*files.ObjectInfo, error) {
	out := make([]*files.ObjectInfo, 0, len(m.objects))
	for name, data := range m.objects {
		out = append(out, &files.ObjectInfo{Name: name, Size: uint64(len(data)), ContentType: m.types[name]})
	}
	return out, nil
}

// fakeConn records frames pushed through the hub and whether it was
// closed.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, frame := range c.frames {
		var env broadcast.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeConn) last(t *testing.T, target any) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("no frames recorded")
	}

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(c.frames[len(c.frames)-1], &env); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if target != nil {
		if err := json.Unmarshal(env.Payload, target); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
	}
	return env.Type
}

func setupHandlers(t *testing.T) *Handlers {
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

	service := chat.NewService(storage.NewStore(db), chat.NewRegistry(), chat.NewSessions(), nil)
	return NewHandlers(service, broadcast.NewHub(), files.NewService(newMemObjectStore()))
}

func setupApp(t *testing.T) (*fiber.App, *Handlers) {
	t.Helper()

	h := setupHandlers(t)
	app := fiber.New()
	api := app.Group("/api/v1")
	api.Get("/rooms/:id/history", h.GetRoomHistory)
	api.Patch("/messages/:id", h.EditMessage)
	api.Delete("/messages/:id", h.DeleteMessage)
	app.Post("/upload", h.UploadFile)
	app.Get("/uploads/:id", h.DownloadFile)
	return app, h
}

// joinAs attaches a fake connection and binds it to a room.
func joinAs(t *testing.T, h *Handlers, connID, username string, roomID int64) *fakeConn {
	t.Helper()

	conn := &fakeConn{}
	h.hub.Attach(connID, conn)
	if _, err := h.service.Join(context.Background(), connID, username, roomID); err != nil {
		t.Fatalf("Join(%s) error = %v", username, err)
	}
	h.hub.JoinRoom(connID, roomID)
	return conn
}

func TestHandleJoin_DuplicateUsernameForcesClose(t *testing.T) {
	h := setupHandlers(t)
	joinAs(t, h, "c1", "alice", 1)

	second := &fakeConn{}
	h.hub.Attach("c2", second)
	h.handleJoin(second, "c2", json.RawMessage(`{"username":"alice","room_id":1}`))

	// The rejection is flushed before the connection is dropped.
	var rej rejectedPayload
	if got := second.last(t, &rej); got != eventRejected {
		t.Fatalf("second connection saw %q, want rejected", got)
	}
	if rej.Reason != reasonDuplicateIdentity {
		t.Errorf("reason = %q, want %q", rej.Reason, reasonDuplicateIdentity)
	}
	if !second.isClosed() {
		t.Error("duplicate join must close the connection")
	}

	// No session was bound for the rejected connection and the first one
	// is unaffected.
	if _, ok := h.service.Lookup("c2"); ok {
		t.Error("rejected join must not bind a session")
	}
	sess, ok := h.service.Lookup("c1")
	if !ok || sess.Username != "alice" || sess.RoomID != 1 {
		t.Errorf("first session disturbed: %+v ok=%v", sess, ok)
	}
}

func TestHandleJoin_SendsHistoryAndPresenceNotes(t *testing.T) {
	h := setupHandlers(t)

	conn := &fakeConn{}
	h.hub.Attach("c1", conn)
	h.handleJoin(conn, "c1", json.RawMessage(`{"username":"alice","room_id":3}`))

	// history to self, then the self note, then the room-wide note which
	// the joiner also receives as a room member.
	want := []string{eventHistory, eventPresenceNote, eventPresenceNote}
	types := conn.types(t)
	if len(types) != len(want) {
		t.Fatalf("emitted %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("emitted %v, want %v", types, want)
		}
	}
	if conn.isClosed() {
		t.Error("successful join must not close the connection")
	}
}

func TestHandleMessage_BroadcastsToRoom(t *testing.T) {
	h := setupHandlers(t)
	alice := joinAs(t, h, "c1", "alice", 1)
	bob := joinAs(t, h, "c2", "bob", 1)

	h.handleMessage("c1", json.RawMessage(`{"content":"hello"}`))

	var view domain.MessageView
	if got := alice.last(t, &view); got != eventMessageCreated {
		t.Fatalf("sender saw %q, want message-created", got)
	}
	if view.Content == nil || *view.Content != "hello" || view.Username != "alice" {
		t.Errorf("unexpected payload %+v", view)
	}
	if got := bob.last(t, nil); got != eventMessageCreated {
		t.Errorf("room member saw %q, want message-created", got)
	}
}

func TestHandleMessage_BeforeJoinRejected(t *testing.T) {
	h := setupHandlers(t)
	conn := &fakeConn{}
	h.hub.Attach("c1", conn)

	h.handleMessage("c1", json.RawMessage(`{"content":"hello"}`))

	var rej rejectedPayload
	if got := conn.last(t, &rej); got != eventRejected {
		t.Fatalf("saw %q, want rejected", got)
	}
	if rej.Reason != reasonUnauthorizedOrNotFound {
		t.Errorf("reason = %q", rej.Reason)
	}
}

func TestHandleMessage_EmptyContentRejectedSelfOnly(t *testing.T) {
	h := setupHandlers(t)
	alice := joinAs(t, h, "c1", "alice", 1)
	bob := joinAs(t, h, "c2", "bob", 1)

	h.handleMessage("c1", json.RawMessage(`{"content":"   "}`))

	var rej rejectedPayload
	if got := alice.last(t, &rej); got != eventRejected {
		t.Fatalf("sender saw %q, want rejected", got)
	}
	if rej.Reason != reasonInvalidContent {
		t.Errorf("reason = %q", rej.Reason)
	}
	for _, typ := range bob.types(t) {
		if typ == eventRejected || typ == eventMessageCreated {
			t.Errorf("failure leaked to the room: %q", typ)
		}
	}
}

func TestHandleDelete_EmitsPerChildRedaction(t *testing.T) {
	h := setupHandlers(t)
	alice := joinAs(t, h, "c1", "alice", 1)

	parent, err := h.service.Post(context.Background(), "alice", 1, "parent", nil)
	if err != nil {
		t.Fatalf("Post(parent) error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.service.Post(context.Background(), "alice", 1, "child", &parent.ID); err != nil {
			t.Fatalf("Post(child) error = %v", err)
		}
	}

	h.handleDelete("c1", json.RawMessage(fmt.Sprintf(`{"message_id":%d}`, parent.ID)))

	// message-deleted first, then exactly one parent-redacted per child.
	types := alice.types(t)
	want := []string{eventMessageDeleted, eventParentRedacted, eventParentRedacted}
	if len(types) != len(want) {
		t.Fatalf("emitted %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("emitted %v, want %v", types, want)
		}
	}
}

func TestHandleDelete_NoChildrenNoRedaction(t *testing.T) {
	h := setupHandlers(t)
	alice := joinAs(t, h, "c1", "alice", 1)

	msg, err := h.service.Post(context.Background(), "alice", 1, "lonely", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	h.handleDelete("c1", json.RawMessage(fmt.Sprintf(`{"message_id":%d}`, msg.ID)))

	for _, typ := range alice.types(t) {
		if typ == eventParentRedacted {
			t.Error("parent-redacted emitted for a childless message")
		}
	}
}

func TestHandleEdit_RedactionCarriesNewText(t *testing.T) {
	h := setupHandlers(t)
	alice := joinAs(t, h, "c1", "alice", 1)

	parent, err := h.service.Post(context.Background(), "alice", 1, "before", nil)
	if err != nil {
		t.Fatalf("Post(parent) error = %v", err)
	}
	if _, err := h.service.Post(context.Background(), "alice", 1, "child", &parent.ID); err != nil {
		t.Fatalf("Post(child) error = %v", err)
	}

	h.handleEdit("c1", json.RawMessage(fmt.Sprintf(`{"message_id":%d,"content":"after"}`, parent.ID)))

	var redaction parentRedactedPayload
	if got := alice.last(t, &redaction); got != eventParentRedacted {
		t.Fatalf("last event %q, want parent-redacted", got)
	}
	if redaction.NewText == nil || *redaction.NewText != "after" {
		t.Errorf("new_text = %v, want after", redaction.NewText)
	}
	if redaction.ParentUser == nil || *redaction.ParentUser != "alice" {
		t.Errorf("parent_user = %v, want alice", redaction.ParentUser)
	}
	if redaction.ParentID != parent.ID {
		t.Errorf("parent_id = %d, want %d", redaction.ParentID, parent.ID)
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.ErrDuplicateIdentity, reasonDuplicateIdentity},
		{domain.ErrInvalidContent, reasonInvalidContent},
		{domain.ErrUnauthorizedOrNotFound, reasonUnauthorizedOrNotFound},
		{domain.ErrNotFound, reasonNotFound},
		{errors.New("disk on fire"), reasonPersistenceFailure},
	}
	for _, tc := range tests {
		if got := reasonFor(tc.err); got != tc.want {
			t.Errorf("reasonFor(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestRejectText_HidesStorageDetail(t *testing.T) {
	if got := rejectText(errors.New("sqlite: database is locked")); got != "operation failed" {
		t.Errorf("rejectText() = %q, storage detail must not cross the wire", got)
	}
	if got := rejectText(domain.ErrInvalidContent); got != domain.ErrInvalidContent.Error() {
		t.Errorf("rejectText() = %q", got)
	}
}

func TestRESTHistory(t *testing.T) {
	app, h := setupApp(t)

	if _, err := h.service.Post(context.Background(), "alice", 9, "first", nil); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/rooms/9/history", nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var history domain.History
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if history.RoomID != 9 || len(history.Messages) != 1 || len(history.Users) != 1 {
		t.Errorf("unexpected history %+v", history)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/rooms/not-a-number/history", nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("non-numeric room id: status = %d, want 400", resp.StatusCode)
	}
}

func TestRESTEdit_Authorization(t *testing.T) {
	app, h := setupApp(t)

	msg, err := h.service.Post(context.Background(), "alice", 1, "original", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	patch := func(body string) int {
		req := httptest.NewRequest("PATCH", fmt.Sprintf("/api/v1/messages/%d", msg.ID), strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request error = %v", err)
		}
		return resp.StatusCode
	}

	if code := patch(`{"username":"bob","content":"hacked"}`); code != fiber.StatusForbidden {
		t.Errorf("non-author edit: status = %d, want 403", code)
	}
	if code := patch(`{"username":"alice","content":"  "}`); code != fiber.StatusBadRequest {
		t.Errorf("blank edit: status = %d, want 400", code)
	}
	if code := patch(`{"username":"alice","content":"updated"}`); code != fiber.StatusOK {
		t.Errorf("author edit: status = %d, want 200", code)
	}
}

func TestRESTDelete_SoftDeletesRow(t *testing.T) {
	app, h := setupApp(t)

	msg, err := h.service.Post(context.Background(), "alice", 1, "to be removed", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	req := httptest.NewRequest("DELETE", fmt.Sprintf("/api/v1/messages/%d", msg.ID), strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// The row survives redacted.
	history, err := h.service.History(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history.Messages) != 1 {
		t.Fatalf("row disappeared from history")
	}
	if history.Messages[0].Content != nil || !history.Messages[0].Deleted {
		t.Errorf("expected redacted row, got %+v", history.Messages[0])
	}
}

func TestRESTUploadDownloadRoundTrip(t *testing.T) {
	app, _ := setupApp(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte("upload me")); err != nil {
		t.Fatalf("write error = %v", err)
	}
	writer.Close()

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("upload request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	var uploaded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if uploaded.URL != "/uploads/"+uploaded.ID {
		t.Errorf("url = %q", uploaded.URL)
	}

	resp, err = app.Test(httptest.NewRequest("GET", uploaded.URL, nil))
	if err != nil {
		t.Fatalf("download request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "upload me" {
		t.Errorf("downloaded %q", data)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/uploads/missing-id", nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("missing file: status = %d, want 404", resp.StatusCode)
	}
}
