package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"neighborhub/internal/client/chatclient"
	"neighborhub/internal/infra/obs"
)

func main() {
	var (
		baseURL  = flag.String("base", getenv("NEIGHBORHUB_URL", "http://localhost:8080"), "API base URL")
		email    = flag.String("email", os.Getenv("NEIGHBORHUB_EMAIL"), "account email")
		password = flag.String("password", os.Getenv("NEIGHBORHUB_PASSWORD"), "account password")
		chatID   = flag.String("chat", "", "conversation id to open")
		with     = flag.String("with", "", "user id to start (or reopen) a conversation with")
		itemID   = flag.String("item", "", "item the conversation is about")
		interval = flag.Duration("interval", chatclient.DefaultPollInterval, "message poll interval")
	)
	flag.Parse()

	logger := obs.NewLogger(getenv("APP_ENV", "dev"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		baseURL:  *baseURL,
		email:    *email,
		password: *password,
		chatID:   *chatID,
		with:     *with,
		itemID:   *itemID,
		interval: *interval,
	}, os.Stdin, os.Stdout); err != nil {
		logger.Error("chatwatch failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	baseURL  string
	email    string
	password string
	chatID   string
	with     string
	itemID   string
	interval time.Duration
}

func run(ctx context.Context, logger *slog.Logger, opts options, in io.Reader, out io.Writer) error {
	if opts.email == "" || opts.password == "" {
		return fmt.Errorf("-email and -password are required")
	}
	session, err := chatclient.Login(ctx, nil, opts.baseURL, opts.email, opts.password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	client := chatclient.NewClient(session, nil)

	chatID := opts.chatID
	if chatID == "" {
		if opts.with == "" {
			return fmt.Errorf("one of -chat or -with is required")
		}
		res, err := client.StartConversation(ctx, chatclient.StartParams{UserID: opts.with, ItemID: opts.itemID})
		if err != nil {
			return fmt.Errorf("start conversation: %w", err)
		}
		chatID = res.ChatID
	}

	printer := &printer{out: out, self: session.UserID, seen: map[string]bool{}}
	badgeCtx, cancelBadge := context.WithCancel(ctx)
	defer cancelBadge()
	badge := chatclient.NewUnreadBadge(client, chatclient.DefaultBadgeInterval, logger, printer.badge)
	go badge.Run(badgeCtx)

	view := chatclient.NewConversationView(client, chatID, chatclient.ViewOptions{
		SelfID:   session.UserID,
		Interval: opts.interval,
		Logger:   logger,
		OnChange: printer.entries,
	})
	if err := view.Mount(ctx); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	defer view.Unmount()
	fmt.Fprintf(out, "-- conversation %s (/retry <id>, /upload <path>, /quit)\n", chatID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, view, line, out); quit {
				return nil
			}
		}
	}
}

// handleLine reports whether the user asked to quit. Send errors are shown
// through the failed entry, so they are not printed twice.
func handleLine(ctx context.Context, view *chatclient.ConversationView, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/retry "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
		if err := view.Retry(ctx, id); err != nil {
			fmt.Fprintf(out, "!! retry %s: %v\n", id, err)
		}
	case strings.HasPrefix(line, "/upload "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/upload "))
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(out, "!! %v\n", err)
			return false
		}
		defer f.Close()
		_ = view.SendMedia(ctx, filepath.Base(path), f)
	default:
		_ = view.Send(ctx, line)
	}
	return false
}

type printer struct {
	mu     sync.Mutex
	out    io.Writer
	self   string
	seen   map[string]bool
	failed map[string]bool
}

func (p *printer) entries(entries []chatclient.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed == nil {
		p.failed = map[string]bool{}
	}
	for _, e := range entries {
		switch e.Status {
		case chatclient.EntrySent:
			if p.seen[e.ID] {
				continue
			}
			p.seen[e.ID] = true
			who := e.Message.Sender
			if who == p.self {
				who = "me"
			}
			body := e.Message.Text
			if e.Message.Media != "" {
				body = strings.TrimSpace(body + " [" + e.Message.Media + "]")
			}
			fmt.Fprintf(p.out, "%s %s: %s\n", e.Message.CreatedAt.Local().Format("15:04"), who, body)
		case chatclient.EntryFailed:
			if p.failed[e.ID] {
				continue
			}
			p.failed[e.ID] = true
			fmt.Fprintf(p.out, "!! %s not sent (%v); /retry %s\n", e.ID, e.Err, e.ID)
		case chatclient.EntryPending:
			delete(p.failed, e.ID)
		}
	}
}

func (p *printer) badge(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "-- %d unread across your conversations\n", total)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
