package ingress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/flashbots/penum-ingress/pipeline"
)

// PostgresCommitmentStore implements pipeline.CommitmentStore with PostgreSQL
// persistence. The table is append-only: the batch id primary key plus
// ON CONFLICT DO NOTHING gives the write-once guarantee.
type PostgresCommitmentStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresCommitmentStore opens the database and runs migrations.
func NewPostgresCommitmentStore(config *PostgresConfig) (*PostgresCommitmentStore, error) {
	return newPostgresCommitmentStore(config.ConnectionString())
}

// NewPostgresCommitmentStoreDSN opens the database from a raw DSN.
func NewPostgresCommitmentStoreDSN(dsn string) (*PostgresCommitmentStore, error) {
	return newPostgresCommitmentStore(dsn)
}

func newPostgresCommitmentStore(dsn string) (*PostgresCommitmentStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresCommitmentStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresCommitmentStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_commitments (
		batch_id UUID PRIMARY KEY,
		commitment_hash VARCHAR(66) NOT NULL,
		tx_count INTEGER NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_commitments_created ON batch_commitments(created_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append persists a commitment record, enforcing write-once per batch id.
func (s *PostgresCommitmentStore) Append(ctx context.Context, rec *pipeline.CommitmentRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO batch_commitments (batch_id, commitment_hash, tx_count, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (batch_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.BatchID.String(),
		rec.CommitmentHash.Hex(),
		rec.TxCount,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting commitment: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert result: %w", err)
	}
	if rows == 0 {
		return pipeline.ErrDuplicateCommitment
	}
	return nil
}

// Get returns the commitment record for a batch id.
func (s *PostgresCommitmentStore) Get(ctx context.Context, batchID uuid.UUID) (*pipeline.CommitmentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT commitment_hash, tx_count, created_at
		FROM batch_commitments
		WHERE batch_id = $1
	`, batchID.String())

	var (
		commitmentHex string
		txCount       int
		createdAt     time.Time
	)
	if err := row.Scan(&commitmentHex, &txCount, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, pipeline.ErrCommitmentMissing
		}
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	return &pipeline.CommitmentRecord{
		BatchID:        batchID,
		CommitmentHash: common.HexToHash(commitmentHex),
		TxCount:        txCount,
		CreatedAt:      createdAt,
	}, nil
}

// Close closes the database connection.
func (s *PostgresCommitmentStore) Close() error {
	return s.db.Close()
}
