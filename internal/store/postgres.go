package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// maxSerializableRetries matches the realtime database's own transaction
// retry budget.
const maxSerializableRetries = 25

// LeafRow is one leaf of the tree in PostgreSQL. The C collation keeps
// range scans in byte order.
type LeafRow struct {
	Path  string `gorm:"primaryKey;type:text COLLATE \"C\""`
	Value string `gorm:"type:text;not null"`
}

func (LeafRow) TableName() string { return "tree_leaves" }

// NewPostgres stores the tree in a single table. Every write runs at
// SERIALIZABLE isolation and is retried when PostgreSQL reports a
// serialization failure.
func NewPostgres(db *gorm.DB, opts Options) (*LeafStore, error) {
	if err := db.AutoMigrate(&LeafRow{}); err != nil {
		return nil, fmt.Errorf("migrate tree_leaves: %w", err)
	}
	return newLeafStore(&gormEngine{db: db}, opts), nil
}

type gormEngine struct {
	db *gorm.DB
}

func (e *gormEngine) read(ctx context.Context, fn func(leafTx) error) error {
	return fn(&gormTx{tx: e.db.WithContext(ctx)})
}

func (e *gormEngine) write(ctx context.Context, fn func(leafTx) error) error {
	var err error
	for attempt := 1; attempt <= maxSerializableRetries; attempt++ {
		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormTx{tx: tx})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if !isSerializationFailure(err) {
			return err
		}
		logger.Log.Debug("postgres_tx_retry", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("transaction gave up after %d attempts: %w", maxSerializableRetries, err)
}

// close leaves the connection pool open; it belongs to the caller.
func (e *gormEngine) close() error {
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type gormTx struct {
	tx *gorm.DB
}

func (t *gormTx) scan(p string) ([]leaf, error) {
	var rows []LeafRow
	q := t.tx.Model(&LeafRow{})
	if p != "" {
		lo, hi := subtreeRange(p)
		q = q.Where("path = ? OR (path >= ? AND path < ?)", p, lo, hi)
	}
	if err := q.Order("path").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]leaf, len(rows))
	for i, r := range rows {
		out[i] = leaf{path: r.Path, raw: []byte(r.Value)}
	}
	return out, nil
}

func (t *gormTx) replace(p string, leaves []leaf) error {
	exact := append(ancestors(p), p)
	if err := t.tx.Where("path IN ?", exact).Delete(&LeafRow{}).Error; err != nil {
		return err
	}
	lo, hi := subtreeRange(p)
	if err := t.tx.Where("path >= ? AND path < ?", lo, hi).Delete(&LeafRow{}).Error; err != nil {
		return err
	}
	if len(leaves) == 0 {
		return nil
	}
	rows := make([]LeafRow, len(leaves))
	for i, l := range leaves {
		rows[i] = LeafRow{Path: l.path, Value: string(l.raw)}
	}
	return t.tx.Create(&rows).Error
}
