package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/energy-consumption-notifier/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const startStopTimeout = 30 * time.Second

// envCandidates lists where a .env file may live relative to the process
func envCandidates() []string {
	paths := []string{".env", "../../.env"}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		paths = append(paths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}
	return paths
}

// loadEnv loads the first .env found; containers rely on the real environment
func loadEnv() string {
	for _, envPath := range envCandidates() {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			return absPath
		}
	}
	return ""
}

func main() {
	if loaded := loadEnv(); loaded != "" {
		fmt.Printf("Loaded environment from: %s\n", loaded)
	} else {
		fmt.Println("No .env file found, using system environment variables")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideAnomalyDetector,
			ProvideValidator,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideExtractor,
			ProvideCredentials,
			ProvideDispatcher,
			ProvideNotifier,
		),
		fx.Invoke(syncLogger, startWorker),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bootLogger, _ := newLogger(&config.Config{ServiceName: "energy-consumption-notifier"})
	bootLogger.Info("starting application", zap.Duration("timeout", startStopTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			bootLogger.Error("application did not start in time, check that the database and RabbitMQ are reachable")
		}
		bootLogger.Fatal("application start failed", zap.Error(err))
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		bootLogger.Error("error stopping app", zap.Error(err))
	}
}
