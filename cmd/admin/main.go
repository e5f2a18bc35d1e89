package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"chatrelay/backend/internal/auth"
	"chatrelay/backend/internal/config"
	"chatrelay/backend/internal/storage"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const tokenTTL = 24 * time.Hour

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: admin <token|conversation|history> [args]")
		os.Exit(1)
	}

	// token only signs; it needs neither the database nor the feed settings.
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	command := os.Args[1]
	if command != "token" {
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
	}

	switch command {
	case "token":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin token <email> <role>")
			os.Exit(1)
		}
		token, err := auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer).Issue(os.Args[2], os.Args[3], tokenTTL)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)
	case "conversation":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin conversation <email_a> <email_b>")
			os.Exit(1)
		}
		conv, err := openStorage(cfg).GetOrCreateConversation(context.Background(), os.Args[2], os.Args[3])
		if err != nil {
			log.Fatalf("Error creating conversation: %v", err)
		}
		fmt.Printf("Conversation %s between %v\n", conv.ID, []string(conv.Participants))
	case "history":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin history <conversation_id>")
			os.Exit(1)
		}
		if err := printHistory(openStorage(cfg), os.Args[2]); err != nil {
			log.Fatalf("Error reading history: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}
}

// openStorage connects without an emitter; nothing the admin tool writes is a message.
func openStorage(cfg *config.Config) *storage.Service {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if err := storage.Migrate(db, cfg.FeedDriver == config.FeedPostgres); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}
	return storage.NewStorageService(db, nil, zerolog.New(os.Stderr))
}

func printHistory(s storage.Storage, conversationID string) error {
	ctx := context.Background()
	if _, err := s.FindConversation(ctx, conversationID); err != nil {
		return err
	}
	history, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, m := range history {
		fmt.Printf("%s  %-26s  %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.ID, m.FromID, m.Text)
	}
	return nil
}
