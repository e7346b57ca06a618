package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	dt "github.com/deeptrace/deeptrace"
	dtgrpc "github.com/deeptrace/deeptrace/grpc"
	"github.com/deeptrace/deeptrace/oauth2"
)

var sweepInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 10*time.Minute, "How often expired tokens and sessions are deleted")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer b.close()

	tokens := dt.NewTokenIssuer(b.tokens)
	resolver := dt.NewIdentityResolver(b.users, tokens, dt.NewBcryptHasher())
	resolver.Logger = logger

	sessions := dt.NewSessionManager(b.sessions, b.users, cfg.SessionSecret).UseProductionCookies(cfg.IsProduction())
	sessions.Lifetime = cfg.SessionTTL
	sessions.Logger = logger

	app := dt.NewApp(resolver, sessions)
	app.ClientURL = cfg.ClientURL
	app.BaseURL = cfg.BaseURL
	app.EmailSender = &dt.ConsoleEmailSender{Logger: logger, RedactTokens: cfg.Env != "development"}
	app.Limiter = dt.NewLoginLimiter(cfg.LoginMaxAttempts, cfg.LoginWindow)
	app.TrustProxy = cfg.TrustProxy
	if cfg.GoogleEnabled() {
		google := oauth2.NewGoogleOAuth2(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL, tokens)
		google.SecureCookies = cfg.IsProduction()
		app.Google = google
	} else {
		logger.Info("google sign-in disabled, GOOGLE_CLIENT_ID not set")
	}

	go b.sweepEvery(ctx, sweepInterval)

	errc := make(chan error, 2)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "env", cfg.Env, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcServer, err = startGRPC(sessions, errc)
		if err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "error", serr)
	}
	logger.Info("server stopped")
	return err
}

// startGRPC serves the health service behind the session interceptors.
// Health checks stay public so orchestrators can probe without a session.
func startGRPC(sessions *dt.SessionManager, errc chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	authConfig := dtgrpc.NewPublicMethodsConfig(sessions,
		"/grpc.health.v1.Health/Check",
		"/grpc.health.v1.Health/Watch",
		"/grpc.health.v1.Health/List",
	)
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(dtgrpc.UnaryAuthInterceptor(authConfig)),
		grpc.ChainStreamInterceptor(dtgrpc.StreamAuthInterceptor(authConfig)),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		logger.Info("grpc server listening", "addr", lis.Addr().String())
		if err := server.Serve(lis); err != nil {
			errc <- err
		}
	}()
	return server, nil
}
