package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradyMeighan/WhoopGPT/internal/aggregate"
	"github.com/BradyMeighan/WhoopGPT/internal/auth"
	"github.com/BradyMeighan/WhoopGPT/internal/config"
	"github.com/BradyMeighan/WhoopGPT/internal/kv"
	"github.com/BradyMeighan/WhoopGPT/internal/logging"
	"github.com/BradyMeighan/WhoopGPT/internal/mcpserver"
	"github.com/BradyMeighan/WhoopGPT/internal/secret"
	"github.com/BradyMeighan/WhoopGPT/internal/server"
	"github.com/BradyMeighan/WhoopGPT/internal/session"
	"github.com/BradyMeighan/WhoopGPT/internal/state"
	"github.com/BradyMeighan/WhoopGPT/internal/whoop"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stores holds the handle and session stores and whatever backs them.
type stores struct {
	handles  kv.Store
	sessions kv.Store
	close    func() error
}

// openStores keeps handles and sessions in memory, or in a bbolt file
// when a state path is configured.
func openStores(path string, logger *slog.Logger) (*stores, error) {
	if path == "" {
		logger.Info("credential stores in memory; handles and sessions are lost on restart")
		return &stores{
			handles:  kv.NewMemory(),
			sessions: kv.NewMemory(),
			close:    func() error { return nil },
		}, nil
	}

	st, err := state.LoadAt(path)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	logger.Info("credential stores on disk", slog.String("path", path))

	return &stores{
		handles:  st.Bucket(state.HandlesBucket),
		sessions: st.Bucket(state.SessionsBucket),
		close:    st.Close,
	}, nil
}

// sessionKey derives the cookie signing key. Without a configured secret
// the key is random and sessions die with the process.
func sessionKey(configured string, logger *slog.Logger) []byte {
	if configured == "" {
		logger.Warn("SESSION_SECRET not set; using a random key")
		configured = secret.RandomHex(64)
	}

	sum := sha256.Sum256([]byte(configured))

	return sum[:]
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("whoopgpt starting",
		slog.String("version", Version),
		slog.String("environment", cfg.Environment),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	cipher, err := secret.NewCipherFromSecret(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("deriving encryption key: %w", err)
	}

	st, err := openStores(cfg.StatePath, logger)
	if err != nil {
		return err
	}
	defer st.close()

	states := kv.NewMemory()
	stateRegistry := auth.NewStateRegistry(states)
	creds := auth.NewCredentialStore(st.handles, cipher, logger)
	sessions := session.NewManager(st.sessions, sessionKey(cfg.SessionSecret, logger), cfg.IsProduction(), logger)

	httpClient := whoop.NewHTTPClient(cfg.HTTPTimeout)
	oauth := whoop.NewOAuthClient(whoop.OAuthConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
	}, httpClient)
	reader := aggregate.NewService(whoop.NewClient(httpClient, whoop.BaseURL), logger)

	var mcpHandler http.Handler
	if cfg.EnableMCP {
		mcpHandler = mcpserver.NewHandler(reader, mcpserver.Options{
			Name:    "whoopgpt",
			Version: Version,
			AuthURL: cfg.AuthURL(),
			Logger:  logger.With(slog.String("component", "mcp")),
		})
	}

	handler, err := server.NewMux(server.MuxConfig{
		States:     stateRegistry,
		OAuth:      oauth,
		Creds:      creds,
		Sessions:   sessions,
		Reader:     reader,
		MCPHandler: mcpHandler,
		Logger:     logger,
		BaseURL:    cfg.BaseURL,
		Version:    Version,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	sweeper := kv.NewSweeper(auth.CleanupInterval, map[string]kv.Store{
		"states":   states,
		"handles":  st.handles,
		"sessions": st.sessions,
	}, logger)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", cfg.ListenAddr()),
			slog.String("base_url", cfg.BaseURL),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
