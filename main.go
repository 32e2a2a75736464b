package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/chat-backend/modules/archiver"
	"github.com/example/chat-backend/modules/broadcast"
	"github.com/example/chat-backend/modules/chat"
	"github.com/example/chat-backend/modules/files"
	"github.com/example/chat-backend/modules/gateway"
	"github.com/example/chat-backend/modules/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Chat Backend - Fiber + GORM + EventBus ===")

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	storageModule := storage.NewModule()
	chatModule := chat.NewModule(storageModule)
	broadcastModule := broadcast.NewModule()
	filesModule := files.NewModule()
	archiverModule := archiver.NewModule(storageModule)
	gatewayModule := gateway.NewModule(chatModule, broadcastModule.Hub(), filesModule)

	// Register modules with the framework.
	// Order matters: Start runs in registration order, so providers come
	// before their consumers.
	// - storage: GORM/SQLite persistence
	// - chat: presence, sessions, message lifecycle (emits MessageStored)
	// - broadcast: WebSocket hub
	// - files: attachment storage (NATS JetStream Object Store)
	// - archiver: MessageStored consumer, fire-and-forget archive rows
	// - gateway: Fiber HTTP/WebSocket server, depends on all of the above
	app.Register(storageModule)
	app.Register(chatModule)
	app.Register(broadcastModule)
	app.Register(filesModule)
	app.Register(archiverModule)
	app.Register(gatewayModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "chat.db"
	}
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Printf("  - Persistence: GORM + SQLite (%s)", dbPath)
	log.Printf("  - Attachments:  NATS JetStream Object Store (%s)", natsURL)
	log.Println("  - Archive path: MessageStored events -> archiver module")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                     - Health check")
	log.Println("  GET    /api/v1/rooms/:id/history   - Room history (?limit=)")
	log.Println("  PATCH  /api/v1/messages/:id        - Edit a message")
	log.Println("  DELETE /api/v1/messages/:id        - Soft-delete a message")
	log.Println("  POST   /upload                     - Upload an attachment")
	log.Println("  GET    /uploads/:id                - Download an attachment")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Inbound frames: join, message, edit_message, delete_message")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
