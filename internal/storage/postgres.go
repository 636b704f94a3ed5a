package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/storage/repository"
	_ "github.com/lib/pq"
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db            *sql.DB
	redemptions   *repository.RedemptionRepository
	reserves      *repository.ReserveRepository
	sequences     *repository.SequenceRepository
	notifications *repository.NotificationRepository
	audit         *repository.AuditRepository
	intake        *repository.IntakeRepository
}

func NewPostgresStorage(host string, port int, user, password, dbname, sslmode string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseConnection, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrDatabaseConnection, err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &PostgresStorage{
		db:            db,
		redemptions:   repository.NewRedemptionRepository(db),
		reserves:      repository.NewReserveRepository(db),
		sequences:     repository.NewSequenceRepository(db),
		notifications: repository.NewNotificationRepository(db),
		audit:         repository.NewAuditRepository(db),
		intake:        repository.NewIntakeRepository(db),
	}

	if err := storage.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reserve_accounts (
			offering_id VARCHAR(100) PRIMARY KEY,
			balance NUMERIC(20, 2) NOT NULL DEFAULT 0,
			target NUMERIC(20, 2) NOT NULL,
			pending_reserved NUMERIC(20, 2) NOT NULL DEFAULT 0,
			low_balance BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (pending_reserved >= 0),
			CHECK (balance - pending_reserved >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id VARCHAR(64) PRIMARY KEY,
			offering_id VARCHAR(100) NOT NULL REFERENCES reserve_accounts(offering_id),
			amount NUMERIC(20, 2) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS redemption_requests (
			id VARCHAR(64) PRIMARY KEY,
			request_number VARCHAR(40) NOT NULL,
			offering_id VARCHAR(100) NOT NULL,
			investor_id VARCHAR(100) NOT NULL,
			investor_email TEXT NOT NULL DEFAULT '',
			property_name TEXT NOT NULL DEFAULT '',
			quantity NUMERIC(30, 8) NOT NULL,
			token_price NUMERIC(20, 8) NOT NULL,
			holding_months INTEGER NOT NULL,
			gross_value NUMERIC(20, 2) NOT NULL,
			fee_percent NUMERIC(7, 4) NOT NULL,
			fee_amount NUMERIC(20, 2) NOT NULL,
			net_payout NUMERIC(20, 2) NOT NULL,
			status VARCHAR(20) NOT NULL,
			reservation_id VARCHAR(64) NOT NULL,
			payout_reference TEXT NOT NULL DEFAULT '',
			denial_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			approved_at TIMESTAMPTZ,
			denied_at TIMESTAMPTZ,
			processing_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			CONSTRAINT redemption_requests_request_number_key UNIQUE (request_number)
		)`,
		`CREATE TABLE IF NOT EXISTS request_sequences (
			scope VARCHAR(40) PRIMARY KEY,
			last_value BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			type VARCHAR(60) NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			data JSONB,
			is_read BOOLEAN NOT NULL DEFAULT false,
			is_archived BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			action VARCHAR(30) NOT NULL,
			from_status VARCHAR(20) NOT NULL DEFAULT '',
			to_status VARCHAR(20) NOT NULL,
			data TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS intake_pauses (
			id BIGSERIAL PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			paused_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resumed_at TIMESTAMPTZ
		)`,
		// Индексы
		`CREATE INDEX IF NOT EXISTS idx_redemptions_offering_status ON redemption_requests(offering_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_investor ON redemption_requests(investor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_redemptions_completed_at ON redemption_requests(completed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_offering ON reservations(offering_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_request ON audit_log(request_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Redemptions репозиторий заявок
func (s *PostgresStorage) Redemptions() domain.RedemptionRepository { return s.redemptions }

// Reserves репозиторий резервов
func (s *PostgresStorage) Reserves() domain.ReserveRepository { return s.reserves }

// Sequences репозиторий счетчиков номеров
func (s *PostgresStorage) Sequences() domain.SequenceRepository { return s.sequences }

// Notifications репозиторий in-app уведомлений
func (s *PostgresStorage) Notifications() domain.NotificationRepository { return s.notifications }

// Audit журнал переходов
func (s *PostgresStorage) Audit() domain.AuditRepository { return s.audit }

// Intake история остановок приема
func (s *PostgresStorage) Intake() domain.IntakeRepository { return s.intake }

// Ping проверяет соединение с базой
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
