package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/riftline/msgcore/config"
	"github.com/riftline/msgcore/internal/api"
	"github.com/riftline/msgcore/internal/flood"
	"github.com/riftline/msgcore/internal/jobs"
	"github.com/riftline/msgcore/internal/link"
	"github.com/riftline/msgcore/internal/logger"
	"github.com/riftline/msgcore/internal/metrics"
	"github.com/riftline/msgcore/internal/provisioning"
	"github.com/riftline/msgcore/internal/sender"
	"github.com/riftline/msgcore/internal/signalengine"
	"github.com/riftline/msgcore/internal/signalstore"
	"github.com/riftline/msgcore/internal/signing"
	"github.com/riftline/msgcore/internal/store"
	"github.com/riftline/msgcore/internal/store/memstore"
	"github.com/riftline/msgcore/internal/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the messaging client core and block until signalled to stop",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	case "fatal":
		return logger.FatalLevel
	default:
		return logger.InfoLevel
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(os.Stdout, parseLevel(cfg.Logging.Level))
	log.SetPrettyPrint(cfg.Logging.Format != "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := memstore.New()

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("msgcored: starting metrics server", logger.String("addr", addr))
			if err := metrics.StartServer(addr); err != nil {
				log.Error("msgcored: metrics server exited", logger.Error(err))
			}
		}()
	}

	auth, err := db.GetAuth(ctx)
	if err != nil {
		log.Info("msgcored: no local identity found, provisioning")
		auth, err = provisionIdentity(ctx, cfg, db, log)
		if err != nil {
			return fmt.Errorf("provision identity: %w", err)
		}
	}

	signer := signing.NewSigner(auth.UserID, auth.SessionID, auth.PrivateKey)
	httpClient := api.NewHTTPClient(cfg.API.BaseURL, signer)

	sigStore := signalstore.New(db, signalengine.Serializer)
	engine := signalengine.New(sigStore)

	l := link.New(link.Config{
		URL:              cfg.Link.URL,
		LocalUserID:      auth.UserID,
		Signer:           signer,
		FloodStore:       db,
		Logger:           log,
		ReconnectMinWait: cfg.Link.ReconnectMinWait,
		ReconnectMaxWait: cfg.Link.ReconnectMaxWait,
		WriteTimeout:     cfg.Link.WriteTimeout,
	})

	if err := l.Connect(ctx, nil); err != nil {
		return fmt.Errorf("connect link: %w", err)
	}
	defer l.Close()

	syncer := sync.New(httpClient, db, auth.UserID)
	snd := sender.New(l, engine, db, syncer, auth.UserID, log)

	jobSvc := jobs.New(db, httpClient, snd, auth.UserID, log)
	floodPipeline := flood.New(db, syncer, engine, jobSvc, auth.UserID, log)

	go jobSvc.Run(ctx)
	go floodPipeline.Loop(ctx)

	log.Info("msgcored: running", logger.String("user_id", auth.UserID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("msgcored: shutting down")
	cancel()
	time.Sleep(100 * time.Millisecond)
	return nil
}

func provisionIdentity(ctx context.Context, cfg *config.Config, db store.Store, log logger.Logger) (*store.Auth, error) {
	bootstrapSigner := signing.NewSigner("", "", make([]byte, 32))
	bootstrapClient := api.NewHTTPClient(cfg.API.BaseURL, bootstrapSigner)
	provClient := api.NewProvisioningClient(bootstrapClient)

	res, err := provisioning.Provision(ctx, provClient, log)
	if err != nil {
		return nil, err
	}
	if err := provisioning.Persist(ctx, db, res); err != nil {
		return nil, err
	}
	return db.GetAuth(ctx)
}
