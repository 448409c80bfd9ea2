package browserstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51731105

// RecordModel is one browser record row.
type RecordModel struct {
	BrowserID string         `gorm:"primaryKey;size:64"`
	Key       string         `gorm:"primaryKey;size:128"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	ExpiresAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (RecordModel) TableName() string { return "browser_records" }

// PostgresProvider keeps browser records in Postgres with a sliding expiry.
type PostgresProvider struct {
	db           *gorm.DB
	ttl          time.Duration
	cookieName   string
	secureCookie bool
	now          func() time.Time
}

// PostgresOptions configures a PostgresProvider.
type PostgresOptions struct {
	TTL          time.Duration
	CookieName   string
	SecureCookie bool
}

// NewPostgresProvider opens the DB and migrates the records table.
func NewPostgresProvider(dsn string, opts PostgresOptions) (*PostgresProvider, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("browserstore: postgres dsn is required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(&RecordModel{})
	}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &PostgresProvider{
		db:           db,
		ttl:          ttl,
		cookieName:   opts.CookieName,
		secureCookie: opts.SecureCookie,
		now:          time.Now,
	}, nil
}

// For returns the store of the browser identified by its id cookie.
func (p *PostgresProvider) For(w http.ResponseWriter, r *http.Request) Store {
	return p.Browser(BrowserID(w, r, p.cookieName, p.secureCookie))
}

// Browser returns the store of an already known browser id.
func (p *PostgresProvider) Browser(browserID string) Store {
	return &postgresStore{p: p, browserID: browserID}
}

// Sweep deletes expired records and reports how many went.
func (p *PostgresProvider) Sweep(ctx context.Context) (int64, error) {
	res := p.db.WithContext(ctx).Where("expires_at <= ?", p.now()).Delete(&RecordModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("browserstore sweep: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close releases the connection pool.
func (p *PostgresProvider) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type postgresStore struct {
	p         *PostgresProvider
	browserID string
}

func (s *postgresStore) Get(ctx context.Context, key string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var rec RecordModel
	now := s.p.now()
	err := s.p.db.WithContext(ctx).
		Where("browser_id = ? AND key = ? AND expires_at > ?", s.browserID, key, now).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("browserstore get %s: %w", key, err)
	}
	// Reading a record extends its expiry.
	err = s.p.db.WithContext(ctx).Model(&RecordModel{}).
		Where("browser_id = ? AND key = ?", s.browserID, key).
		Update("expires_at", now.Add(s.p.ttl)).Error
	if err != nil {
		return fmt.Errorf("browserstore touch %s: %w", key, err)
	}
	if err := json.Unmarshal(rec.Value, out); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	return nil
}

func (s *postgresStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("browserstore encode %s: %w", key, err)
	}
	now := s.p.now()
	rec := RecordModel{
		BrowserID: s.browserID,
		Key:       key,
		Value:     datatypes.JSON(raw),
		ExpiresAt: now.Add(s.p.ttl),
		UpdatedAt: now,
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err = s.p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "browser_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("browserstore set %s: %w", key, err)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := s.p.db.WithContext(ctx).
		Where("browser_id = ? AND key = ?", s.browserID, key).
		Delete(&RecordModel{}).Error
	if err != nil {
		return fmt.Errorf("browserstore delete %s: %w", key, err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}
