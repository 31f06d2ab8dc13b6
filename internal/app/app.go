// Package app opens the configured store and builds the repositories and
// services on top of it. The API server and fanoutctl share it.
package app

import (
	"context"
	"fmt"
	"os"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/internal/reconcile"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
	"github.com/anonto42/nano-midea/fanout/pkg/config"
	"github.com/anonto42/nano-midea/fanout/pkg/firebase"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// App is everything built from one Config.
type App struct {
	Config   *config.Config
	DB       *config.DB
	Firebase *firebase.App

	Users   *repositories.StoreUserRepository
	Posts   *repositories.StorePostRepository
	Follows *repositories.StoreFollowRepository
	Likes   *repositories.StoreLikeRepository

	Engine     *timeline.Engine
	Reader     *timeline.Reader
	Reconciler *reconcile.Reconciler
}

// Open initializes Firebase when the backend or the auth mode needs it or
// credentials are present, opens the store and wires the services.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	required := cfg.StoreBackend == config.BackendFirebase || cfg.AuthMode == config.AuthFirebase
	if required || fileExists(cfg.FirebaseCredentialsPath) {
		fb, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseDatabaseURL)
		switch {
		case err == nil:
			a.Firebase = fb
		case required:
			return nil, fmt.Errorf("failed to initialize Firebase: %w", err)
		default:
			logger.Log.Warn("firebase_unavailable", zap.Error(err))
		}
	}

	d, err := config.InitStore(ctx, cfg, a.firebaseDatabase())
	if err != nil {
		return nil, err
	}
	a.DB = d

	s := d.Store
	a.Users = repositories.NewStoreUserRepository(s)
	a.Posts = repositories.NewStorePostRepository(s)
	a.Follows = repositories.NewStoreFollowRepository(s)
	a.Likes = repositories.NewStoreLikeRepository(s, a.Posts)
	a.Engine = timeline.NewEngine(s, a.Users, a.Posts, a.Follows)
	a.Reader = timeline.NewReader(s, a.Posts, a.Likes, cfg.JoinConcurrency)
	a.Reconciler = reconcile.New(s, a.Users, a.Posts, a.Follows, a.Likes, 0)

	logger.Log.Info("store_opened", zap.String("backend", cfg.StoreBackend))
	return a, nil
}

// Close releases the store and its connections.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.CloseDB()
	}
}

func (a *App) firebaseDatabase() *db.Client {
	if a.Firebase == nil {
		return nil
	}
	return a.Firebase.Database
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
