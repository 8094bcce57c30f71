package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/boat-builder/mediapod"
	"github.com/boat-builder/mediapod/agents"
	"github.com/boat-builder/mediapod/config"
	"github.com/boat-builder/mediapod/server"
	"github.com/boat-builder/mediapod/tools"
)

const usage = "Expected 'init', 'run' or 'serve' subcommand"

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg := config.Load()
	logger := newLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(cfg, logger)
	case "run":
		err = runAgent(cfg, logger, os.Args[2:])
	case "serve":
		err = runServe(cfg, logger, os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func newLogger(output io.Writer, level slog.Level) *slog.Logger {
	handler := tint.NewHandler(output, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05.000Z07:00",
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

func openStorage(cfg *config.Config) (mediapod.Storage, error) {
	switch cfg.DBType {
	case "sqlite":
		return mediapod.NewSQLiteStorage(cfg.SQLiteDBPath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("POSTGRES_DSN is required when DB_TYPE is postgres")
		}
		return mediapod.NewPostgresStorage(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.DBType)
	}
}

func newPod(cfg *config.Config, logger *slog.Logger, storage mediapod.Storage) (*mediapod.Pod, error) {
	retry := tools.DefaultRetry
	retry.MaxAttempts = cfg.ToolMaxAttempts
	catalog := tools.NewVideoDB(cfg.VideoDBBaseURL, cfg.VideoDBAPIKey,
		tools.WithRetry(retry),
		tools.WithLogger(logger.With("tool", "videodb")),
	)
	images := tools.NewOpenAIImages(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ImageModel, logger.With("tool", "openai_images"))
	audio := tools.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, logger.With("tool", "elevenlabs"))
	video := tools.NewKling(cfg.KlingAccessKey, cfg.KlingSecretKey, cfg.KlingBaseURL, tools.WithKlingLogger(logger.With("tool", "kling")))
	if err := os.MkdirAll(cfg.DownloadsPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads dir: %w", err)
	}

	pod := mediapod.NewPod(
		mediapod.WithStorage(storage),
		mediapod.WithLogger(logger),
		mediapod.WithStrictTransitions(cfg.StrictTransitions),
	)
	err := pod.Register(
		agents.NewStreamVideo(catalog),
		agents.NewImageGeneration(images),
		agents.NewUpload(catalog),
		agents.NewDownload(catalog),
		agents.NewAudioGeneration(audio, catalog, cfg.DownloadsPath),
		agents.NewVideoGeneration(video, catalog, cfg.DownloadsPath),
	)
	return pod, err
}

func runInit(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Initializing database...", "db_type", cfg.DBType)
	storage, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer storage.Close()
	if err := storage.HealthCheck(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Database initialized successfully")
	return nil
}

func runAgent(cfg *config.Config, logger *slog.Logger, args []string) error {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	agentName := runCmd.String("agent", "", "Agent to invoke (required)")
	rawParams := runCmd.String("params", "{}", "Agent parameters as a JSON object")
	sessionID := runCmd.String("session", "", "Continue an existing session")
	collectionID := runCmd.String("collection", "", "Collection bound to a new session")
	videoID := runCmd.String("video", "", "Video bound to a new session")
	input := runCmd.String("input", "", "User message recorded before the agent runs")
	runCmd.Parse(args)

	if *agentName == "" {
		fmt.Println("Error: --agent flag is required")
		runCmd.PrintDefaults()
		os.Exit(1)
	}
	var params mediapod.Params
	if err := json.Unmarshal([]byte(*rawParams), &params); err != nil {
		return fmt.Errorf("invalid --params: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer storage.Close()
	pod, err := newPod(cfg, logger, storage)
	if err != nil {
		return err
	}

	// the session outlives an interrupt so the printer still sees the final publish
	sessCtx := context.WithoutCancel(ctx)
	var sess *mediapod.Session
	if *sessionID != "" {
		sess, err = pod.LoadSession(sessCtx, *sessionID)
	} else {
		sess, err = pod.NewSession(sessCtx, *collectionID, *videoID, nil)
	}
	if err != nil {
		return err
	}

	// updates stream to stdout as JSON lines
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		enc := json.NewEncoder(os.Stdout)
		for {
			u := sess.Out()
			if u.Type == mediapod.UpdateTypeEnd {
				return
			}
			_ = enc.Encode(u)
		}
	}()

	if *input != "" {
		if _, err := sess.AddInput(ctx, *input); err != nil {
			sess.Close()
			return err
		}
	}
	resp := pod.Invoke(ctx, sess, *agentName, params)
	sess.Close()
	<-printed

	logger.Info("Agent finished", "session_id", sess.ID(), "status", resp.Status, "message", resp.Message)
	if resp.Status == mediapod.AgentStatusError {
		return errors.New(resp.Message)
	}
	return nil
}

func runServe(cfg *config.Config, logger *slog.Logger, args []string) error {
	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := serveCmd.String("addr", cfg.ListenAddr, "Address to listen on")
	schedule := serveCmd.String("maintenance", cfg.MaintenanceSchedule, "Cron schedule of the maintenance sweep")
	serveCmd.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer storage.Close()
	pod, err := newPod(cfg, logger, storage)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Pod:         pod,
		Storage:     storage,
		IdleTimeout: cfg.SessionIdleTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := srv.StartMaintenance(*schedule); err != nil {
		return fmt.Errorf("invalid maintenance schedule: %w", err)
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", *addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		srv.Shutdown()
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = httpServer.Shutdown(shutdownCtx)
	srv.Shutdown()
	return err
}
