package recurring

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// ErrTemplateNotFound indicates the template does not exist.
var ErrTemplateNotFound = errors.New("recurring: template not found")

// TxRepository exposes the operations a run commits atomically.
type TxRepository interface {
	Ledger() ledger.TxRepository
	AdvanceTemplate(ctx context.Context, id int64, nextRun time.Time, active bool) error
}

// Repository is the pgx store for templates and run history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const templateColumns = `id, company_id, name, frequency, next_run, end_date, active, template_data`

func scanTemplate(row pgx.Row) (Template, error) {
	var (
		t         Template
		frequency string
		raw       []byte
	)
	if err := row.Scan(&t.ID, &t.CompanyID, &t.Name, &frequency, &t.NextRun, &t.EndDate, &t.Active, &raw); err != nil {
		return Template{}, err
	}
	t.Frequency = Frequency(frequency)
	t.Data, t.decodeErr = DecodeData(raw)
	return t, nil
}

// DueTemplates lists active templates whose next run falls on or before on.
// Templates with an undecodable payload are returned so the run can report them.
func (r *Repository) DueTemplates(ctx context.Context, on time.Time) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+templateColumns+`
FROM recurring_templates WHERE active AND next_run <= $1 ORDER BY next_run, id`, on)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTemplate loads a template by id.
func (r *Repository) GetTemplate(ctx context.Context, id int64) (Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM recurring_templates WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrTemplateNotFound
		}
		return Template{}, err
	}
	return t, nil
}

// SaveTemplate inserts t, or updates it when t.ID is set.
func (r *Repository) SaveTemplate(ctx context.Context, t Template) (int64, error) {
	raw, err := EncodeData(t.Data)
	if err != nil {
		return 0, err
	}
	if _, err := t.Frequency.Next(t.NextRun); err != nil {
		return 0, err
	}
	if t.ID == 0 {
		err = r.pool.QueryRow(ctx, `INSERT INTO recurring_templates (company_id, name, transaction_type, frequency, next_run, end_date, active, template_data)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			t.CompanyID, t.Name, string(t.Data.Kind()), string(t.Frequency), t.NextRun, t.EndDate, t.Active, raw).Scan(&t.ID)
		return t.ID, err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE recurring_templates SET name=$2, transaction_type=$3, frequency=$4, next_run=$5, end_date=$6,
active=$7, template_data=$8, updated_at=NOW() WHERE id=$1`,
		t.ID, t.Name, string(t.Data.Kind()), string(t.Frequency), t.NextRun, t.EndDate, t.Active, raw)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrTemplateNotFound
	}
	return t.ID, nil
}

// RecordRun stores the summary of a scheduler run.
func (r *Repository) RecordRun(ctx context.Context, run Run) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO recurring_runs (id, run_on, started_at, finished_at, posted, skipped, failed)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.On, run.StartedAt, run.FinishedAt, run.Posted, run.Skipped, len(run.Failures))
	return err
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("recurring repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.TxFrom(tx)})
	})
}

type txRepository struct {
	tx     pgx.Tx
	ledger ledger.TxRepository
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledger
}

func (r *txRepository) AdvanceTemplate(ctx context.Context, id int64, nextRun time.Time, active bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE recurring_templates SET next_run=$2, active=$3, last_run_at=NOW(), updated_at=NOW() WHERE id=$1`, id, nextRun, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
