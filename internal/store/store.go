// Package store persists proxy configurations in SQLite through gorm.
//
// Each configuration is one row keyed by its id. Custom headers and the
// parsed SOCKS5 relay are stored as JSON columns in the same row, so an
// upsert is a single-row write and can never leave a record half-written.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/model"
)

type record struct {
	ID                 string `gorm:"primaryKey"`
	Name               string
	ListenIP           string
	ListenPort         int
	UseHTTPS           bool
	RemoteAddress      string
	RemoteHost         string
	Headers            []model.Header `gorm:"serializer:json"`
	RewriteHostHeaders bool
	SOCKS5Proxy        string
	Relay              *model.Relay `gorm:"serializer:json"`
	CreatedAt          time.Time    `gorm:"autoCreateTime:false;index"`
	UpdatedAt          time.Time
}

func (record) TableName() string {
	return "proxy_configs"
}

func toRecord(c model.ProxyConfig) record {
	return record{
		ID:                 c.ID,
		Name:               c.Name,
		ListenIP:           c.ListenIP,
		ListenPort:         c.ListenPort,
		UseHTTPS:           c.UseHTTPS,
		RemoteAddress:      c.RemoteAddress,
		RemoteHost:         c.RemoteHost,
		Headers:            c.Headers,
		RewriteHostHeaders: c.RewriteHostHeaders,
		SOCKS5Proxy:        c.SOCKS5Proxy,
		Relay:              c.Relay,
		CreatedAt:          c.CreatedAt,
	}
}

func (r record) config() model.ProxyConfig {
	headers := r.Headers
	if headers == nil {
		headers = []model.Header{}
	}
	return model.ProxyConfig{
		ID:                 r.ID,
		Name:               r.Name,
		ListenIP:           r.ListenIP,
		ListenPort:         r.ListenPort,
		UseHTTPS:           r.UseHTTPS,
		RemoteAddress:      r.RemoteAddress,
		RemoteHost:         r.RemoteHost,
		Headers:            headers,
		RewriteHostHeaders: r.RewriteHostHeaders,
		SOCKS5Proxy:        r.SOCKS5Proxy,
		Relay:              r.Relay,
		CreatedAt:          r.CreatedAt.UTC(),
	}
}

// Repository is the durable config store.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, log *zap.Logger, verbose bool) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	gormLogger := logger.Discard
	if verbose {
		gormLogger = logger.Default
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	// SQLite allows one writer; serialize through one connection.
	sqlDB.SetMaxOpenConns(1)

	return New(db, log)
}

// New wraps an already-open gorm handle and migrates the schema.
func New(db *gorm.DB, log *zap.Logger) (*Repository, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Repository{db: db, logger: log}, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// List returns every configuration, oldest first.
func (r *Repository) List(ctx context.Context) ([]model.ProxyConfig, error) {
	var recs []record
	if err := r.db.WithContext(ctx).Order("created_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	out := make([]model.ProxyConfig, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.config())
	}
	return out, nil
}

// Get returns the configuration with the given id, or a NOT_FOUND error.
func (r *Repository) Get(ctx context.Context, id string) (model.ProxyConfig, error) {
	var rec record
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ProxyConfig{}, apperr.Newf(apperr.KindNotFound, "config not found: %s", id)
	}
	if err != nil {
		return model.ProxyConfig{}, fmt.Errorf("get config %s: %w", id, err)
	}
	return rec.config(), nil
}

// Upsert validates c and inserts or replaces the record with its id. The
// stored form (with derived fields) is returned. An existing record keeps
// its created_at when c does not carry one.
func (r *Repository) Upsert(ctx context.Context, c model.ProxyConfig) (model.ProxyConfig, error) {
	keepCreated := c.CreatedAt.IsZero()

	prepared, err := model.Prepare(c)
	if err != nil {
		return model.ProxyConfig{}, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if keepCreated {
			var existing record
			err := tx.Select("created_at").Where("id = ?", prepared.ID).Take(&existing).Error
			switch {
			case err == nil:
				prepared.CreatedAt = existing.CreatedAt.UTC()
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}
		rec := toRecord(prepared)
		return tx.Save(&rec).Error
	})
	if err != nil {
		return model.ProxyConfig{}, fmt.Errorf("save config %s: %w", prepared.ID, err)
	}

	r.logger.Debug("config saved", zap.String("config_id", prepared.ID), zap.String("name", prepared.Name))
	return prepared, nil
}

// Remove deletes the record with id, or returns NOT_FOUND.
func (r *Repository) Remove(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&record{})
	if res.Error != nil {
		return fmt.Errorf("delete config %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "config not found: %s", id)
	}
	r.logger.Debug("config removed", zap.String("config_id", id))
	return nil
}
