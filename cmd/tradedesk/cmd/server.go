package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/tradedesk/api"
	"github.com/jmcleod/tradedesk/web"
)

var serverAddr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the dashboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serverAddr
		}
		return withApp(func(a *app) error {
			return serve(cmd, a)
		})
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&serverAddr, "addr", "a", "", "Address to listen on (overrides server.addr)")
}

func serve(cmd *cobra.Command, a *app) error {
	proxies, err := cfg.Server.Proxies()
	if err != nil {
		return err
	}
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithAutoCode(cfg.Session.AutoOTP),
		api.WithTrustedProxies(proxies),
		api.WithAlertHandler(func(ev api.AlertEvent) {
			logger.Warn("security alert", "alert", ev.Type, "message", ev.Message, "count", ev.Count)
		}),
	}
	if cfg.Credentials.Panel {
		opts = append(opts, api.WithCredentialPanel(a.panel))
	}
	if cfg.Audit.WebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader))
	}
	dashboard := api.New(a.sessions, a.client, opts...)
	defer dashboard.Close()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Mount("/api/v1", dashboard.Router())

	webHandler, err := web.Handler(Version)
	if err != nil {
		return err
	}
	r.Handle("/*", api.SecurityHeaders(webHandler))

	var tlsConfig *tls.Config
	if cfg.Server.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Broker.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if cfg.Stream.Enabled {
		go runStreamDaemon(ctx, a, logger.With("component", "stream"))
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	out := cmd.OutOrStdout()
	printBanner(out)
	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
	}
	fmt.Fprintf(out, "Dashboard on %s://%s (session store: %s)\n", scheme, cfg.Server.Addr, cfg.Session.Store)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

// runStreamDaemon keeps a feed connection open whenever the dashboard holds
// an active session. It never logs in by itself.
func runStreamDaemon(ctx context.Context, a *app, log *slog.Logger) {
	const retry = 15 * time.Second
	for {
		if sess := a.sessions.Current(); sess.IsActive() {
			sc, err := newStreamClient(a, cfg.Stream.Exchange, cfg.Stream.Symbols)
			if err != nil {
				log.Error("stream subscriptions", "error", err)
				return
			}
			logEvents(sc.Bus(), log)
			if err := sc.Run(ctx, sess); err != nil {
				log.Warn("stream disconnected", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
