package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mandi/adapters/ledger"
	"mandi/adapters/notify"
	"mandi/adapters/redis"
	"mandi/api"
	"mandi/market"
)

var rootCmd = &cobra.Command{
	Use:           "mandi",
	Short:         "Crop marketplace bidding and negotiation server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		args, err := ParseArgs()
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: args.LogLevel})))
		if args.LogLevel > slog.LevelDebug {
			gin.SetMode(gin.ReleaseMode)
		}
		if err := args.Validate(); err != nil {
			return err
		}
		cmd.SetContext(context.WithValue(cmd.Context(), argsKey{}, args))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger tables",
	RunE:  runMigrate,
}

var settleCmd = &cobra.Command{
	Use:   "settle <crop-id>",
	Short: "Mark a crop as sold after delivery and payment",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettle,
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire published crops whose listing window has passed",
	RunE:  runExpire,
}

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Deliver queued notifications as SMS",
	RunE:  runNotifier,
}

type argsKey struct{}

func argsFrom(cmd *cobra.Command) Args {
	return cmd.Context().Value(argsKey{}).(Args)
}

func init() {
	registerFlags(rootCmd.PersistentFlags())
	if err := bindFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(serveCmd, migrateCmd, settleCmd, expireCmd, notifierCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	args := argsFrom(cmd)

	deps, err := api.Connect(args.ServerConfig)
	if err != nil {
		return err
	}
	defer deps.Close()

	server, err := api.NewServer(args.ServerConfig, deps)
	if err != nil {
		return err
	}
	server.Start()
	defer server.Close()

	httpServer := &http.Server{
		Addr:              args.ServerURL,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", args.ServerURL))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-cmd.Context().Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	args := argsFrom(cmd)

	db, err := ledger.Open(args.ServerConfig.DB)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := ledger.Migrate(db); err != nil {
		return err
	}
	slog.Info("ledger migrated", slog.String("driver", args.ServerConfig.DB.Driver))
	return nil
}

func runSettle(cmd *cobra.Command, positional []string) error {
	cropID, err := uuid.Parse(positional[0])
	if err != nil {
		return fmt.Errorf("invalid crop id %q: %w", positional[0], err)
	}

	args := argsFrom(cmd)
	deps, err := api.Connect(args.ServerConfig)
	if err != nil {
		return err
	}
	defer deps.Close()

	lifecycle := market.NewLifecycle(deps.Store, market.WithLogger(deps.Logger))
	crop, err := lifecycle.MarkSold(cmd.Context(), cropID)
	if err != nil {
		return err
	}
	slog.Info("crop settled", slog.String("cropId", crop.ID.String()), slog.String("status", string(crop.Status)))
	return nil
}

func runExpire(cmd *cobra.Command, _ []string) error {
	args := argsFrom(cmd)
	deps, err := api.Connect(args.ServerConfig)
	if err != nil {
		return err
	}
	defer deps.Close()

	lifecycle := market.NewLifecycle(deps.Store, market.WithLogger(deps.Logger))
	expired, err := lifecycle.ExpireOverdue(cmd.Context())
	if err != nil {
		return err
	}
	slog.Info("overdue crops expired", slog.Int64("count", expired))
	return nil
}

func runNotifier(cmd *cobra.Command, _ []string) error {
	args := argsFrom(cmd)
	if !args.ServerConfig.Redis.Enabled() {
		return errors.New("notifier requires redis-addr")
	}

	deps, err := api.Connect(args.ServerConfig)
	if err != nil {
		return err
	}
	defer deps.Close()

	stream := args.ServerConfig.Redis.StreamKeys.Notifications
	if stream == "" {
		stream = notify.DefaultStream
	}
	consumer, err := redis.NewGroupConsumer[market.Notification](
		deps.Redis,
		stream,
		args.ServerConfig.Redis.ConsumerGroup,
		args.ServerConfig.ID,
		redis.WithGroupConsumerCreateGroup(true),
		redis.WithGroupConsumerLogger(deps.Logger),
	)
	if err != nil {
		return err
	}

	var sender notify.Sender = notify.NewLogSender(deps.Logger)
	if args.SMS.URL != "" {
		sender = notify.NewGatewaySender(args.SMS)
	}

	return notify.NewDispatcher(consumer, deps.Store, sender, deps.Logger).Run(cmd.Context())
}
