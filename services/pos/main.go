package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtm-labs/client/dtmcli/dtmimp"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// quantidades saem como número JSON, não como string
	decimal.MarshalJSONWithoutQuotes = true

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(cfg)
		return
	}

	if cfg.OTELEnabled {
		tp, err := initTracer(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()

		mp, err := initMetrics(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize metrics: %v", err)
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down meter: %v", err)
			}
		}()
	}
	tracer := otel.Tracer(cfg.ServiceName)

	var (
		repository CatalogRepository
		sagaCase   *SagaSaleUseCase
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		log.Println("ℹ️ Using in-memory catalog store")
		repository = NewMemoryCatalogRepository(cfg.LockTimeout)
	default:
		dbPool, err := initDB(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer dbPool.Close()

		if cfg.AutoMigrate {
			if err := applyMigrations(context.Background(), dbPool); err != nil {
				log.Fatalf("Failed to apply migrations: %v", err)
			}
		}
		repository = NewPostgresCatalogRepository(dbPool, cfg.LockTimeout)

		if cfg.DTMEnabled {
			sqlDB, err := initSQLDB(cfg)
			if err != nil {
				log.Fatalf("Failed to initialize barrier database: %v", err)
			}
			defer sqlDB.Close()

			dtmimp.SetCurrentDBType(dtmimp.DBTypePostgres)
			sagaCase = NewSagaSaleUseCase(sqlDB, cfg.LockTimeout)
		}
	}

	catalog := NewCatalogUseCase(repository, tracer, cfg.SaleMaxAttempts)
	sales, err := NewSaleUseCase(repository, tracer, cfg.SaleMaxAttempts)
	if err != nil {
		log.Fatalf("Failed to initialize sale use case: %v", err)
	}

	if cfg.SeedDemo {
		if err := seedDemoCatalog(context.Background(), catalog); err != nil {
			log.Fatalf("Failed to seed demo catalog: %v", err)
		}
	}

	handler := NewPOSHandler(catalog, sales, repository)
	var sagaHandler *SagaHandler
	if sagaCase != nil {
		sagaHandler = NewSagaHandler(sagaCase, tracer)
	}

	var middleware []gin.HandlerFunc
	if cfg.OTELEnabled {
		middleware = append(middleware, otelgin.Middleware(cfg.ServiceName))
	}
	r := NewRouter(handler, sagaHandler, middleware...)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()

	log.Printf("🚀 POS Service (%s store, saga=%t) listening on port %s", cfg.StoreDriver, sagaHandler != nil, cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runMigrate(cfg Config) {
	if cfg.StoreDriver != StoreDriverPostgres {
		log.Fatalf("migrate requires STORE_DRIVER=%s", StoreDriverPostgres)
	}
	dbPool, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbPool.Close()

	if err := applyMigrations(context.Background(), dbPool); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	log.Println("✅ Migrations applied")
}

func initDB(cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = int32(cfg.DBMaxConns)
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Println("✅ Connected to pos database with connection pool")
			return pool, nil
		}
		log.Printf("⏳ Waiting for database... (%d/30)", i+1)
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

// initSQLDB abre o pool database/sql (lib/pq) exigido pelo barrier do DTM
func initSQLDB(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.LibPQDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxConns)
	db.SetMaxIdleConns(cfg.DBMaxConns)
	db.SetConnMaxLifetime(time.Hour)

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			log.Println("✅ Connected to pos database for saga barrier")
			return db, nil
		}
		log.Printf("⏳ Waiting for barrier database... (%d/30)", i+1)
		time.Sleep(1 * time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}
