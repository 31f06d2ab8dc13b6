package firebase

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// App holds the initialized Firebase app, its auth client and, when a
// database URL was given, the Realtime Database client.
type App struct {
	FirebaseApp *firebase.App
	AuthClient  *auth.Client
	Database    *db.Client
}

// InitFirebase initializes the Firebase application and its clients
func InitFirebase(ctx context.Context, credentialsPath, databaseURL string) (*App, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("firebase credentials path not provided")
	}

	// Check if the credentials file exists
	if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("firebase credentials file not found at %s", credentialsPath)
	}

	opt := option.WithCredentialsFile(credentialsPath)

	var conf *firebase.Config
	if databaseURL != "" {
		conf = &firebase.Config{DatabaseURL: databaseURL}
	}
	firebaseApp, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase auth client: %w", err)
	}

	app := &App{FirebaseApp: firebaseApp, AuthClient: authClient}
	if databaseURL != "" {
		app.Database, err = firebaseApp.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("error getting firebase database client: %w", err)
		}
	}

	logger.Log.Info("firebase_initialized",
		zap.Bool("database", app.Database != nil))
	return app, nil
}
