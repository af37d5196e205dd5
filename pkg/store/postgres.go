package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	order_hash          TEXT PRIMARY KEY,
	order_json          JSONB NOT NULL,
	fee_json            JSONB,
	maker_uri           TEXT NOT NULL DEFAULT '',
	maker_signature     JSONB,
	taker_signature     JSONB,
	status              TEXT NOT NULL,
	worker_id           TEXT NOT NULL DEFAULT '',
	integrator_id       TEXT NOT NULL DEFAULT '',
	unwrap              BOOLEAN NOT NULL DEFAULT FALSE,
	last_look_delta_bps TEXT,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_worker_status ON jobs (worker_id, status);

CREATE TABLE IF NOT EXISTS transaction_submissions (
	tx_hash                  TEXT PRIMARY KEY,
	order_hash               TEXT NOT NULL REFERENCES jobs (order_hash),
	nonce                    BIGINT NOT NULL,
	max_fee_per_gas          TEXT NOT NULL,
	max_priority_fee_per_gas TEXT NOT NULL,
	from_address             TEXT NOT NULL,
	to_address               TEXT NOT NULL,
	status                   TEXT NOT NULL,
	created_at               TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_order_hash ON transaction_submissions (order_hash);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
	worker_id TEXT PRIMARY KEY,
	beat_at   TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is the production Store backed by PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database and applies the schema
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type jobRow struct {
	OrderHash        string         `db:"order_hash"`
	OrderJSON        []byte         `db:"order_json"`
	FeeJSON          []byte         `db:"fee_json"`
	MakerURI         string         `db:"maker_uri"`
	MakerSignature   []byte         `db:"maker_signature"`
	TakerSignature   []byte         `db:"taker_signature"`
	Status           string         `db:"status"`
	WorkerID         string         `db:"worker_id"`
	IntegratorID     string         `db:"integrator_id"`
	Unwrap           bool           `db:"unwrap"`
	LastLookDeltaBps sql.NullString `db:"last_look_delta_bps"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func jobToRow(job *models.Job) (*jobRow, error) {
	orderJSON, err := json.Marshal(job.Order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	row := &jobRow{
		OrderHash:    job.OrderHash,
		OrderJSON:    orderJSON,
		MakerURI:     job.MakerURI,
		Status:       string(job.Status),
		WorkerID:     job.WorkerID,
		IntegratorID: job.IntegratorID,
		Unwrap:       job.Unwrap,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}

	if job.Fee != nil {
		if row.FeeJSON, err = json.Marshal(job.Fee); err != nil {
			return nil, fmt.Errorf("failed to marshal fee: %w", err)
		}
	}
	if job.MakerSignature != nil {
		if row.MakerSignature, err = json.Marshal(job.MakerSignature); err != nil {
			return nil, fmt.Errorf("failed to marshal maker signature: %w", err)
		}
	}
	if job.TakerSignature != nil {
		if row.TakerSignature, err = json.Marshal(job.TakerSignature); err != nil {
			return nil, fmt.Errorf("failed to marshal taker signature: %w", err)
		}
	}
	if job.LastLookDeltaBps != nil {
		row.LastLookDeltaBps = sql.NullString{String: job.LastLookDeltaBps.String(), Valid: true}
	}

	return row, nil
}

func rowToJob(row *jobRow) (*models.Job, error) {
	job := &models.Job{
		OrderHash:    row.OrderHash,
		MakerURI:     row.MakerURI,
		Status:       models.JobStatus(row.Status),
		WorkerID:     row.WorkerID,
		IntegratorID: row.IntegratorID,
		Unwrap:       row.Unwrap,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	if len(row.OrderJSON) > 0 {
		job.Order = &models.Order{}
		if err := json.Unmarshal(row.OrderJSON, job.Order); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
	}
	if len(row.FeeJSON) > 0 {
		job.Fee = &models.Fee{}
		if err := json.Unmarshal(row.FeeJSON, job.Fee); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fee: %w", err)
		}
	}
	if len(row.MakerSignature) > 0 {
		job.MakerSignature = &models.Signature{}
		if err := json.Unmarshal(row.MakerSignature, job.MakerSignature); err != nil {
			return nil, fmt.Errorf("failed to unmarshal maker signature: %w", err)
		}
	}
	if len(row.TakerSignature) > 0 {
		job.TakerSignature = &models.Signature{}
		if err := json.Unmarshal(row.TakerSignature, job.TakerSignature); err != nil {
			return nil, fmt.Errorf("failed to unmarshal taker signature: %w", err)
		}
	}
	if row.LastLookDeltaBps.Valid {
		delta, ok := new(big.Int).SetString(row.LastLookDeltaBps.String, 10)
		if !ok {
			return nil, fmt.Errorf("invalid last look delta: %s", row.LastLookDeltaBps.String)
		}
		job.LastLookDeltaBps = delta
	}

	return job, nil
}

func (s *PostgresStore) WriteJob(ctx context.Context, job *models.Job) error {
	row, err := jobToRow(job)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (order_hash, order_json, fee_json, maker_uri, maker_signature, taker_signature,
			status, worker_id, integrator_id, unwrap, last_look_delta_bps, created_at, updated_at)
		VALUES (:order_hash, :order_json, :fee_json, :maker_uri, :maker_signature, :taker_signature,
			:status, :worker_id, :integrator_id, :unwrap, :last_look_delta_bps, :created_at, :updated_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to write job %s: %w", job.OrderHash, err)
	}
	return nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	row, err := jobToRow(job)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE jobs SET
			order_json = :order_json,
			fee_json = :fee_json,
			maker_uri = :maker_uri,
			maker_signature = :maker_signature,
			taker_signature = :taker_signature,
			status = :status,
			worker_id = :worker_id,
			integrator_id = :integrator_id,
			unwrap = :unwrap,
			last_look_delta_bps = :last_look_delta_bps,
			updated_at = :updated_at
		WHERE order_hash = :order_hash
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.OrderHash, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindJobByHash(ctx context.Context, orderHash string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT order_hash, order_json, fee_json, maker_uri, maker_signature, taker_signature,
			status, worker_id, integrator_id, unwrap, last_look_delta_bps, created_at, updated_at
		FROM jobs WHERE order_hash = $1
	`, orderHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job %s: %w", orderHash, err)
	}
	return rowToJob(&row)
}

func (s *PostgresStore) FindUnresolvedJobsForWorker(ctx context.Context, workerID string) ([]*models.Job, error) {
	unresolved := []string{
		string(models.JobPendingEnqueued),
		string(models.JobPendingProcessing),
		string(models.JobPendingLastLookAccepted),
		string(models.JobPendingSubmitted),
	}

	query, args, err := sqlx.In(`
		SELECT order_hash, order_json, fee_json, maker_uri, maker_signature, taker_signature,
			status, worker_id, integrator_id, unwrap, last_look_delta_bps, created_at, updated_at
		FROM jobs WHERE worker_id = ? AND status IN (?)
		ORDER BY created_at ASC
	`, workerID, unresolved)
	if err != nil {
		return nil, fmt.Errorf("failed to build unresolved jobs query: %w", err)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to find unresolved jobs for %s: %w", workerID, err)
	}

	jobs := make([]*models.Job, 0, len(rows))
	for i := range rows {
		job, err := rowToJob(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, orderHash, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET worker_id = $2, updated_at = NOW()
		WHERE order_hash = $1 AND worker_id = ''
	`, orderHash, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", orderHash, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Claim may have already succeeded for this worker on a previous attempt
	var holder string
	err = s.db.GetContext(ctx, &holder, `SELECT worker_id FROM jobs WHERE order_hash = $1`, orderHash)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read claim holder for %s: %w", orderHash, err)
	}
	return holder == workerID, nil
}

type submissionRow struct {
	TxHash               string    `db:"tx_hash"`
	OrderHash            string    `db:"order_hash"`
	Nonce                uint64    `db:"nonce"`
	MaxFeePerGas         string    `db:"max_fee_per_gas"`
	MaxPriorityFeePerGas string    `db:"max_priority_fee_per_gas"`
	From                 string    `db:"from_address"`
	To                   string    `db:"to_address"`
	Status               string    `db:"status"`
	CreatedAt            time.Time `db:"created_at"`
}

func submissionToRow(sub *models.TransactionSubmission) *submissionRow {
	row := &submissionRow{
		TxHash:    sub.TxHash,
		OrderHash: sub.OrderHash,
		Nonce:     sub.Nonce,
		From:      sub.From,
		To:        sub.To,
		Status:    string(sub.Status),
		CreatedAt: sub.CreatedAt,
	}
	if sub.MaxFeePerGas != nil {
		row.MaxFeePerGas = sub.MaxFeePerGas.String()
	}
	if sub.MaxPriorityFeePerGas != nil {
		row.MaxPriorityFeePerGas = sub.MaxPriorityFeePerGas.String()
	}
	return row
}

func rowToSubmission(row *submissionRow) (*models.TransactionSubmission, error) {
	sub := &models.TransactionSubmission{
		TxHash:    row.TxHash,
		OrderHash: row.OrderHash,
		Nonce:     row.Nonce,
		From:      row.From,
		To:        row.To,
		Status:    models.SubmissionStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}
	if row.MaxFeePerGas != "" {
		fee, ok := new(big.Int).SetString(row.MaxFeePerGas, 10)
		if !ok {
			return nil, fmt.Errorf("invalid max fee per gas: %s", row.MaxFeePerGas)
		}
		sub.MaxFeePerGas = fee
	}
	if row.MaxPriorityFeePerGas != "" {
		tip, ok := new(big.Int).SetString(row.MaxPriorityFeePerGas, 10)
		if !ok {
			return nil, fmt.Errorf("invalid max priority fee per gas: %s", row.MaxPriorityFeePerGas)
		}
		sub.MaxPriorityFeePerGas = tip
	}
	return sub, nil
}

func (s *PostgresStore) WriteSubmission(ctx context.Context, sub *models.TransactionSubmission) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO transaction_submissions (tx_hash, order_hash, nonce, max_fee_per_gas,
			max_priority_fee_per_gas, from_address, to_address, status, created_at)
		VALUES (:tx_hash, :order_hash, :nonce, :max_fee_per_gas,
			:max_priority_fee_per_gas, :from_address, :to_address, :status, :created_at)
	`, submissionToRow(sub))
	if err != nil {
		return fmt.Errorf("failed to write submission %s: %w", sub.TxHash, err)
	}
	return nil
}

func (s *PostgresStore) UpdateSubmissions(ctx context.Context, subs []*models.TransactionSubmission) error {
	if len(subs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin submissions update: %w", err)
	}
	defer tx.Rollback()

	for _, sub := range subs {
		res, err := tx.ExecContext(ctx, `
			UPDATE transaction_submissions SET status = $2 WHERE tx_hash = $1
		`, sub.TxHash, string(sub.Status))
		if err != nil {
			return fmt.Errorf("failed to update submission %s: %w", sub.TxHash, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read submission update result: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit submissions update: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSubmissionByTxHash(ctx context.Context, txHash string) (*models.TransactionSubmission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT tx_hash, order_hash, nonce, max_fee_per_gas, max_priority_fee_per_gas,
			from_address, to_address, status, created_at
		FROM transaction_submissions WHERE tx_hash = $1
	`, txHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission %s: %w", txHash, err)
	}
	return rowToSubmission(&row)
}

func (s *PostgresStore) FindSubmissionsByOrderHash(ctx context.Context, orderHash string) ([]*models.TransactionSubmission, error) {
	var rows []submissionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT tx_hash, order_hash, nonce, max_fee_per_gas, max_priority_fee_per_gas,
			from_address, to_address, status, created_at
		FROM transaction_submissions WHERE order_hash = $1
		ORDER BY created_at ASC
	`, orderHash)
	if err != nil {
		return nil, fmt.Errorf("failed to find submissions for %s: %w", orderHash, err)
	}

	subs := make([]*models.TransactionSubmission, 0, len(rows))
	for i := range rows {
		sub, err := rowToSubmission(&rows[i])
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *PostgresStore) WriteHeartbeat(ctx context.Context, workerID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (worker_id, beat_at) VALUES ($1, $2)
		ON CONFLICT (worker_id) DO UPDATE SET beat_at = EXCLUDED.beat_at
	`, workerID, at)
	if err != nil {
		return fmt.Errorf("failed to write heartbeat for %s: %w", workerID, err)
	}
	return nil
}
