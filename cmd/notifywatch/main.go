// Command notifywatch prints a user's notifications and keeps a live unread counter in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/auth"
	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/internal/notifyclient"
)

type options struct {
	apiURL     string
	token      string
	limit      int
	unreadOnly bool
	kind       string
	markAll    bool
	watch      bool
	verbose    bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.apiURL, "api", envOr("NOTIFY_API_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&opts.token, "token", os.Getenv("NOTIFY_ACCESS_TOKEN"), "access token")
	flag.IntVar(&opts.limit, "limit", domain.DefaultListLimit, "page size")
	flag.BoolVar(&opts.unreadOnly, "unread", false, "only unread notifications")
	flag.StringVar(&opts.kind, "type", "", "filter by type (signal, event, announcement, system)")
	flag.BoolVar(&opts.markAll, "mark-all-read", false, "mark every notification as read")
	flag.BoolVar(&opts.watch, "watch", false, "keep running and print the unread count on every change")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()

	logger := newLogger(opts.verbose)
	defer logger.Sync()

	if err := run(opts, logger, os.Stdout); err != nil {
		logger.Error("notifywatch failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(opts options, logger *zap.Logger, out io.Writer) error {
	if opts.token == "" {
		return fmt.Errorf("an access token is required (-token or NOTIFY_ACCESS_TOKEN)")
	}
	userID, err := userFromToken(opts.token)
	if err != nil {
		return err
	}

	params := domain.ListParams{Limit: opts.limit, UnreadOnly: opts.unreadOnly}
	if opts.kind != "" {
		t, err := domain.ParseNotificationType(opts.kind)
		if err != nil {
			return err
		}
		params.Type = &t
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := notifyclient.NewHTTPBackend(opts.apiURL, func() string { return opts.token }, 15*time.Second, logger)
	session := &notifyclient.Session{}
	session.SignIn(userID)
	client := notifyclient.NewClient(backend, notifyclient.NewQueryCache(notifyclient.DefaultStaleTime),
		session, notifyclient.LogNotifier{Logger: logger})

	if opts.markAll {
		n, err := client.MarkAllRead(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "marked %d notification(s) as read\n", n)
	}

	list, err := client.List(ctx, params)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	printList(out, time.Now(), list.Data)

	if !opts.watch {
		count, err := client.UnreadCount(ctx)
		if err != nil {
			return fmt.Errorf("unread count: %w", err)
		}
		fmt.Fprintf(out, "\n%d unread\n", count.Data)
		return nil
	}

	watcher := notifyclient.NewUnreadWatcher(client, func(n int) {
		fmt.Fprintf(out, "[%s] %d unread\n", time.Now().Format("15:04:05"), n)
	}, logger)
	defer watcher.Close()

	if err := watcher.Bind(ctx, userID); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Debug("watching", zap.String("user_id", userID.String()))

	<-ctx.Done()
	return nil
}

func printList(out io.Writer, now time.Time, notifs []*domain.Notification) {
	if len(notifs) == 0 {
		fmt.Fprintln(out, "No notifications")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, n := range notifs {
		marker := " "
		if !n.Read {
			marker = "*"
		}
		title := n.Title
		if pair, ok := n.Pair(); ok {
			title = pair + "  " + title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, n.Type.Label(), title, domain.RelativeTime(now, n.CreatedAt))
	}
	tw.Flush()
}

// userFromToken reads the user id from the token's claims without verifying the signature.
// The API verifies it; the id only scopes the local cache.
func userFromToken(token string) (uuid.UUID, error) {
	claims, err := auth.ParseUnverified(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("read access token: %w", err)
	}
	id, err := claims.User()
	if err != nil {
		return uuid.Nil, fmt.Errorf("access token has no user id: %w", err)
	}
	return id, nil
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
