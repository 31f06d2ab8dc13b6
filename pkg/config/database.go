package config

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/anonto42/nano-midea/fanout/internal/store"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// DB holds the opened store and whatever connection backs it.
type DB struct {
	Store    store.Store
	Postgres *gorm.DB
	Mongo    *mongo.Client
}

// InitStore opens the backend selected by cfg.StoreBackend. fbDB is only
// used by the firebase backend and may be nil otherwise.
func InitStore(ctx context.Context, cfg *Config, fbDB *db.Client) (*DB, error) {
	opts := store.Options{ObserveInterval: cfg.ObserveInterval}

	switch cfg.StoreBackend {
	case BackendPebble:
		s, err := store.OpenPebble(cfg.StorePath, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		return &DB{Store: s}, nil

	case BackendFirebase:
		if fbDB == nil {
			return nil, fmt.Errorf("firebase backend needs a database client")
		}
		logger.Log.Info("using_firebase_store", zap.String("url", cfg.FirebaseDatabaseURL))
		return &DB{Store: store.NewFirebase(fbDB, opts)}, nil

	case BackendMongo:
		client, err := initMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return &DB{Store: store.NewMongo(client.Database(cfg.MongoDatabase), opts), Mongo: client}, nil

	case BackendPostgres:
		pg, err := initPostgres(cfg.PostgresConnStr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s, err := store.NewPostgres(pg, opts)
		if err != nil {
			return nil, err
		}
		return &DB{Store: s, Postgres: pg}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// initPostgres initializes the PostgreSQL database connection using GORM
func initPostgres(connStr string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Ping the database to verify connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, err
	}

	logger.Log.Info("postgres_connected")
	return db, nil
}

// initMongo initializes the MongoDB connection
func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Ping the primary to verify connection
	if err = client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	logger.Log.Info("mongo_connected")
	return client, nil
}

// CloseDB closes the store and its connections
func (d *DB) CloseDB() {
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			logger.Log.Error("store_close_failed", zap.Error(err))
		}
	}

	if d.Postgres != nil {
		sqlDB, err := d.Postgres.DB()
		if err != nil {
			logger.Log.Error("postgres_handle_failed", zap.Error(err))
		} else if err := sqlDB.Close(); err != nil {
			logger.Log.Error("postgres_close_failed", zap.Error(err))
		} else {
			logger.Log.Info("postgres_closed")
		}
	}

	if d.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Mongo.Disconnect(ctx); err != nil {
			logger.Log.Error("mongo_close_failed", zap.Error(err))
		} else {
			logger.Log.Info("mongo_closed")
		}
	}
}
