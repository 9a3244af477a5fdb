package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/versely/stanza/internal/cache"
	"github.com/versely/stanza/internal/config"
	"github.com/versely/stanza/internal/messaging"
	"github.com/versely/stanza/internal/models"
	"github.com/versely/stanza/internal/store"
	"github.com/versely/stanza/internal/ui"
)

const version = "1.0.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "-v", "--version":
			fmt.Printf("Stanza v%s\n", version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		default:
			fmt.Printf("Unknown command: %s\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir := config.ResolveDataDir()
	cfg, err := config.LoadOrCreate(dataDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w\nEdit %s and try again", err, filepath.Join(dataDir, "config.yml"))
	}

	log, logFile, err := openLogger(dataDir, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to row store: %w", err)
	}
	defer pool.Close()

	pg, err := store.NewPostgres(pool, log)
	if err != nil {
		return err
	}

	listOpts := []messaging.ListOption{
		messaging.WithListLog(log),
		messaging.WithListPageSize(cfg.ListPageSize),
	}

	// The snapshot cache is an offline nicety; a broken local db never
	// blocks startup.
	snap, err := cache.Open(dataDir)
	if err != nil {
		log.Warn("snapshot cache unavailable", "error", err)
	} else {
		defer snap.Close()
		listOpts = append(listOpts, messaging.WithListCache(snap))
	}

	list := messaging.NewConversationList(pg, cfg.UserID, listOpts...)

	app := &ui.App{
		UserID:         cfg.UserID,
		Username:       cfg.Username,
		Store:          pg,
		List:           list,
		Users:          pg,
		Log:            log,
		ThreadPageSize: cfg.ThreadPageSize,
		TypingQuiet:    time.Duration(cfg.TypingQuietMS) * time.Millisecond,
	}

	p := tea.NewProgram(ui.NewMenuModel(app), tea.WithAltScreen())

	// The change feed runs alongside the program and forwards events into
	// it. A missing feed degrades to refresh-only operation.
	if cfg.FeedURL != "" {
		feed, err := store.DialFeed(ctx, cfg.FeedURL, cfg.AuthToken, log)
		if err != nil {
			log.Warn("change feed unavailable", "error", err)
		} else {
			defer feed.Close()
			if _, err := feed.SubscribeMessages(ctx, func(ev models.MessageEvent) {
				p.Send(ui.MessageEventMsg(ev))
			}); err != nil {
				log.Warn("message subscription failed", "error", err)
			}
			if _, err := feed.SubscribeTyping(ctx, func(ev models.TypingEvent) {
				p.Send(ui.TypingEventMsg(ev))
			}); err != nil {
				log.Warn("typing subscription failed", "error", err)
			}
		}
	}

	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func openLogger(dataDir, level string) (*slog.Logger, *os.File, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Log to a file; stdout belongs to the TUI.
	path := filepath.Join(dataDir, "stanza.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl})), f, nil
}

func printHelp() {
	help := `Stanza - Terminal Messages Client

Usage:
  stanza             Start the messages client
  stanza version     Show version information
  stanza help        Show this help message

Navigation:
  ↑/↓ or j/k        Navigate lists
  Enter             Select/Open item
  ESC               Go back
  q                 Quit from current view
  ctrl+c            Force quit

Conversations:
  /                 Search conversations
  r                 Refresh conversation list
  n                 Start a new conversation

Messages:
  n or c            Compose a message
  ctrl+s            Send message (while composing)
  ctrl+r            Resend a failed message
  r                 Refresh messages
  ↑/↓ or j/k        Scroll messages

Configuration:
  Settings live in ~/.stanza/config.yml (override the directory
  with STANZA_DATA_DIR). Set user_id and database_url before the
  first run; feed_url enables live updates.
`
	fmt.Print(help)
}
