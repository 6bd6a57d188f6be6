package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/oauth2"

	"github.com/btouchard/beacon/internal/alert"
	"github.com/btouchard/beacon/internal/auth"
	"github.com/btouchard/beacon/internal/config"
	"github.com/btouchard/beacon/internal/credential"
	beaconmcp "github.com/btouchard/beacon/internal/mcp"
	authmw "github.com/btouchard/beacon/internal/mcp/middleware"
	"github.com/btouchard/beacon/internal/notification"
	"github.com/btouchard/beacon/internal/notify"
	"github.com/btouchard/beacon/internal/scheduler"
	"github.com/btouchard/beacon/internal/store"
)

var version = "dev"

const credentialNamespace = "openproject"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "login":
		cmdLogin(os.Args[2:])
	case "logout":
		cmdLogout(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "hash-token":
		cmdHashToken(os.Args[2:])
	case "version":
		fmt.Printf("beacon %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: beacon <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve       Start synchronizing OpenProject notifications\n")
	fmt.Fprintf(os.Stderr, "  login       Sign in to OpenProject\n")
	fmt.Fprintf(os.Stderr, "  logout      Forget the stored OpenProject session\n")
	fmt.Fprintf(os.Stderr, "  check       Validate configuration and show the session state\n")
	fmt.Fprintf(os.Stderr, "  hash-token  Print the hash of an MCP API token for server.api_tokens\n")
	fmt.Fprintf(os.Stderr, "  version     Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting beacon",
		"version", version,
		"openproject", cfg.OpenProject.BaseURL,
		"mode", cfg.Sync.StartMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	manager, err := newManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()

	fmt.Println("Open this URL in your browser and authorize Beacon:")
	fmt.Println()
	fmt.Println("  " + manager.AuthCodeURL(state, verifier))
	fmt.Println()
	fmt.Print("Paste the authorization code: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "\nno authorization code given")
		os.Exit(1)
	}
	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		fmt.Fprintln(os.Stderr, "no authorization code given")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	session, err := manager.Exchange(ctx, code, verifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("signed in, access token valid until %s\n", session.ExpiresAt.Local().Format(time.RFC1123))
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	manager, err := newManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	manager.Logout()
	fmt.Println("signed out")
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")

	manager, err := newManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "credential store error: %v\n", err)
		os.Exit(1)
	}

	s := manager.Load()
	switch {
	case s == nil:
		fmt.Println("session: none, run `beacon login`")
	case auth.IsValid(s, time.Now()):
		fmt.Printf("session: valid until %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
	case s.CanRefresh():
		fmt.Println("session: access token expired, will refresh on next cycle")
	default:
		fmt.Println("session: expired and not refreshable, run `beacon login`")
	}

	if cfg.Server.Enabled && len(cfg.Server.APITokens) == 0 {
		fmt.Println("warning: no server.api_tokens configured, /mcp rejects every request")
	}
}

func cmdHashToken(args []string) {
	token := ""
	if len(args) > 0 {
		token = args[0]
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		token = hex.EncodeToString(buf)
		fmt.Printf("token:      %s\n", token)
	}
	fmt.Printf("token_hash: %s\n", authmw.HashToken(token))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(config.ExpandHome(cfg.Server.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

// newManager opens the credential store and builds the token manager.
func newManager(cfg *config.Config) (*auth.Manager, error) {
	creds, err := credential.Open(cfg.Credentials, credentialNamespace)
	if err != nil {
		return nil, err
	}

	tokenClient, err := auth.TokenClient(cfg.OpenProject.OAuth.Transport, cfg.Sync.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("token transport: %w", err)
	}

	oauthBase := cfg.OpenProject.OAuthBase()
	o := cfg.OpenProject.OAuth
	return auth.NewManager(creds, auth.Options{
		AuthURL:          oauthBase + "/authorize",
		TokenURL:         oauthBase + "/token",
		RedirectURL:      o.RedirectURI,
		ClientID:         o.ClientID,
		ClientSecret:     o.ClientSecret,
		Scopes:           o.Scopes,
		RefreshThreshold: o.RefreshThreshold,
		TokenClient:      tokenClient,
	}), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)

	hub := notify.NewHub(store.NewEventRecorder(db))

	// --- Token Manager ---
	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	manager.SetOnEnded(func(reason string) {
		slog.Warn("openproject session ended, run `beacon login`", "reason", reason)
		hub.Notify(notify.Event{Type: notify.SessionEnded, Message: reason})
	})
	if manager.Load() == nil {
		slog.Warn("no openproject session, run `beacon login`; waiting for one")
	}

	// --- OpenProject API ---
	apiHTTP := &http.Client{Timeout: cfg.Sync.RequestTimeout}
	api, err := notification.NewClient(cfg.OpenProject.APIBase(), apiHTTP, cfg.Sync.PageSize)
	if err != nil {
		return err
	}

	// --- Alert Dispatcher ---
	var sched alert.Scheduler = alert.NewMemoryScheduler()
	if cfg.Alerts.Ntfy.Enabled {
		ntfy, err := alert.NewNtfyScheduler(cfg.Alerts.Ntfy, apiHTTP, db)
		if err != nil {
			return fmt.Errorf("ntfy: %w", err)
		}
		sched = ntfy
		slog.Info("alerts delivered through ntfy", "server", cfg.Alerts.Ntfy.Server, "topic", cfg.Alerts.Ntfy.Topic)
	}

	reasons := make([]notification.Reason, 0, len(cfg.Alerts.AlertableReasons))
	for _, r := range cfg.Alerts.AlertableReasons {
		reasons = append(reasons, notification.ParseReason(r))
	}
	webURL := cfg.Alerts.WebURL
	if webURL == "" {
		webURL = cfg.OpenProject.BaseURL
	}
	dispatcher := alert.NewDispatcher(sched, alert.Options{
		AlertableReasons: reasons,
		WebURL:           webURL,
		Events:           hub,
	})

	// --- Notification Synchronizer ---
	syncer := notification.NewSynchronizer(notification.Options{
		Tokens:     manager,
		API:        api,
		Dispatcher: dispatcher,
		Store:      db,
		Events:     hub,
	})
	if err := syncer.Restore(ctx); err != nil {
		slog.Warn("failed to restore last snapshot", "error", err)
	}

	// --- Scheduler ---
	mode, err := scheduler.ParseMode(cfg.Sync.StartMode)
	if err != nil {
		return err
	}
	driver := scheduler.New(scheduler.Options{
		Sessions:   manager,
		Poller:     syncer,
		Budget:     scheduler.NewWindowBudget(cfg.Sync.BackgroundWindow),
		Foreground: cfg.Sync.ForegroundInterval,
		Background: cfg.Sync.BackgroundInterval,
		Mode:       mode,
		Events:     hub,
	})

	// --- MCP Server ---
	var srv *http.Server
	if cfg.Server.Enabled {
		mcpServer := beaconmcp.NewServer(&beaconmcp.Deps{
			Inbox:   syncer,
			Sync:    driver,
			Session: manager,
			Events:  db,
			Version: version,
		})
		hub.Add(notify.NewMCPNotifier(mcpServer, 0))
		srv = newHTTPServer(cfg, mcpServer, manager)
	}

	go driver.Run(ctx)
	go watchMode(ctx, driver)
	go cleanupLoop(ctx, db, time.Duration(cfg.Database.RetentionDays)*24*time.Hour)

	errCh := make(chan error, 1)
	if srv != nil {
		go func() {
			slog.Info("beacon is ready", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
	} else {
		slog.Info("beacon is ready", "mcp", "disabled")
	}

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	driver.Stop()
	syncer.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
			serveErr = err
		}
	}

	return serveErr
}

func newHTTPServer(cfg *config.Config, mcpServer *server.MCPServer, manager *auth.Manager) *http.Server {
	mcpHTTP := server.NewStreamableHTTPServer(mcpServer)

	if len(cfg.Server.APITokens) == 0 {
		slog.Warn("no server.api_tokens configured, /mcp rejects every request; see `beacon hash-token`")
	}

	r := chi.NewRouter()
	r.Use(authmw.SecurityHeaders)

	// MCP endpoint (API token required)
	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerAuth(cfg.Server.APITokens))
		r.Handle("/mcp", mcpHTTP)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","session":%q}`, manager.State())
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

// watchMode maps SIGUSR1 to background and SIGUSR2 to foreground cadence.
func watchMode(ctx context.Context, driver *scheduler.Driver) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			mode := scheduler.Foreground
			if sig == syscall.SIGUSR1 {
				mode = scheduler.Background
			}
			slog.Info("switching scheduler mode", "mode", mode.String(), "signal", sig.String())
			driver.SetMode(mode)
		}
	}
}

func cleanupLoop(ctx context.Context, db store.Store, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := db.Cleanup(ctx, retention)
		if err != nil {
			slog.Warn("event cleanup failed", "error", err)
		} else if n > 0 {
			slog.Debug("old events removed", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
