package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"pipestock/internal/client"
	"pipestock/internal/configuration"
	"pipestock/internal/coordinator"
	"pipestock/internal/database"
	"pipestock/internal/inventory"
	"pipestock/internal/kvstore"
	"pipestock/internal/logger"
	"pipestock/internal/metrics"
	"pipestock/internal/model"
	"pipestock/internal/server"
	"pipestock/internal/store"
	"pipestock/internal/store/memstore"
)

type leveledLogger interface {
	Tracef(format string, v ...any)
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
	Info(v ...any)
	Error(v ...any)
}

func main() {
	configPath := "config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if err := runApp(configPath); err != nil {
		fmt.Fprintln(os.Stderr, "pipestock exited:", err)
	}
	time.Sleep(10 * time.Second)
	os.Exit(1)
}

func runApp(configPath string) error {
	appContext := context.Background()
	logOutput := io.Writer(os.Stdout)
	var appLogger leveledLogger = logger.NewLogger(logger.LevelInfo, logOutput)

	defer func() {
		if r := recover(); r != nil {
			appLogger.Errorf("APPLICATION CRASHED: %+v", r)
		}
	}()

	config, err := configuration.GetConfig(configPath)
	if err != nil {
		appLogger.Error("Error getting configuration from", configPath+":", err)
		return err
	}

	if config.LogToFile {
		logFile, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			appLogger.Error("Error opening log file:", err)
			return err
		}
		defer func() {
			if err := logFile.Close(); err != nil {
				appLogger.Error("Error closing log file:", err)
			}
		}()
		logOutput = io.MultiWriter(logOutput, logFile)
	}
	appLogger = logger.NewLogger(config.LogLevel, logOutput)

	if config.LogLevel >= logger.LevelDebug {
		redacted := *config
		redacted.AuthSecretKey = nil
		redacted.FCMKey = ""
		redacted.RedisPassword = ""
		conf, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			appLogger.Error("Error marshalling Config to JSON:", err)
			return err
		}
		appLogger.Debugf("Config:\n%s", conf)
	}

	appMetrics := metrics.New()

	primary, closePrimary, err := openBackend(appContext, config.PrimaryBackend, "primary", config, appLogger)
	if err != nil {
		appLogger.Error("Error opening primary backend:", err)
		return err
	}
	defer closePrimary()
	secondary, closeSecondary, err := openBackend(appContext, config.SecondaryBackend, "secondary", config, appLogger)
	if err != nil {
		appLogger.Error("Error opening secondary backend:", err)
		return err
	}
	defer closeSecondary()

	coord := coordinator.New(primary, secondary, coordinator.Options{
		AttemptTimeout: config.PrimaryAttemptTimeout,
		Breaker:        config.PrimaryBreaker,
	}, appLogger, appMetrics)

	policy := model.StockPolicy{LowStockThreshold: config.LowStockThreshold}
	inv := inventory.NewService(coord, policy, config.RecentTransactionsLimit, appLogger, appMetrics)
	inv.Start(appContext)
	defer inv.Stop()

	srv := server.Server{
		Inventory: inv,
		Client: client.Client{
			Client: &http.Client{Timeout: 15 * time.Second},
			FCMKey: config.FCMKey,
			FCMURL: config.FCMURL,
			Logger: appLogger,
		},
		Logger:        appLogger,
		Metrics:       appMetrics,
		AuthSecretKey: config.AuthSecretKey,
		APIKeys:       config.APIKeys,
		Placeholders:  config.DemoPlaceholders,
		FCMTopic:      config.FCMTopic,
	}

	httpSrv := &http.Server{
		Handler:     srv.Router(),
		Addr:        config.ServerAddress,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	appLogger.Info("Serving on", httpSrv.Addr)
	return httpSrv.ListenAndServe()
}

// openBackend connects the store of the given kind and returns it with its close func. role
// names the backend when both sides use the in-memory store.
func openBackend(ctx context.Context, kind, role string, config *configuration.Config, l leveledLogger) (store.Backend, func(), error) {
	switch kind {
	case configuration.BackendMongoDB:
		l.Info("Connecting to MongoDB at", config.MongoDBURI)
		dbConn, err := database.ConnectDB(ctx, config.MongoDBURI)
		if err != nil {
			return store.Backend{}, nil, errors.WithMessagef(err, "%s backend", role)
		}
		closeFn := func() {
			if err := dbConn.Disconnect(context.Background()); err != nil {
				l.Error("Error disconnecting from MongoDB:", err)
			}
		}
		db := database.Database{Database: dbConn.Database(config.MongoDBDatabase)}
		if err = db.EnsureIndexes(ctx); err != nil {
			l.Warnf("openBackend: Error creating MongoDB indexes, err: %v", err)
		}
		return db.Backend(configuration.BackendMongoDB, l), closeFn, nil

	case configuration.BackendRedis:
		l.Info("Connecting to Redis at", config.RedisAddress)
		rdb, err := kvstore.Connect(ctx, config.RedisAddress, config.RedisPassword, config.RedisDB)
		if err != nil {
			l.Warnf("openBackend: Redis %s backend is not answering, continuing without it for now, err: %v", role, err)
		}
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				l.Error("Error closing Redis client:", err)
			}
		}
		return kvstore.NewBackend(configuration.BackendRedis, rdb, config.RedisKeyPrefix, l), closeFn, nil

	case configuration.BackendMemory:
		l.Infof("openBackend: Using in-memory store as %s backend, records are lost on exit", role)
		return memstore.NewBackend(configuration.BackendMemory+"-"+role).Store(), func() {}, nil
	}
	return store.Backend{}, nil, errors.Errorf("unknown backend: %s", kind)
}
