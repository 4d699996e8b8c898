package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailsync/backend/internal/auth"
	"mailsync/backend/internal/config"
	"mailsync/backend/internal/storage/postgres"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: create-manager <email> <password> [name]")
		os.Exit(1)
	}

	email := os.Args[1]
	password := os.Args[2]
	name := ""
	if len(os.Args) >= 4 {
		name = strings.Join(os.Args[3:], " ")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 内存存储中的管理员随进程退出而丢失
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("MAILSYNC_DATABASE_TYPE and MAILSYNC_DATABASE_DSN are required")
		os.Exit(1)
	}

	opts := postgres.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}
	var store *postgres.Store
	switch cfg.Database.Type {
	case "mysql":
		store, err = postgres.NewMySQLStore(cfg.Database.DSN, opts)
	case "postgres", "postgresql":
		store, err = postgres.NewStore(cfg.Database.DSN, opts)
	default:
		err = fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	service := auth.NewService(store, auth.NewTokenManager(cfg.JWT), zap.NewNop())
	manager, err := service.CreateManager(ctx, email, password, name)
	if err != nil {
		fmt.Printf("Failed to create manager: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Manager created successfully!\n")
	fmt.Printf("  ID:    %s\n", manager.ID)
	fmt.Printf("  Email: %s\n", manager.Email)
	if manager.Name != "" {
		fmt.Printf("  Name:  %s\n", manager.Name)
	}
}
