package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/allocation"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes the operations a payment commits atomically.
type TxRepository interface {
	Ledger() ledger.TxRepository
	ApplyAllocations(ctx context.Context, companyID int64, party ledger.PartyType, entries []allocation.Entry) error
	RestoreAllocations(ctx context.Context, p Payment) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, companyID int64, voucherNo string) (Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status ledger.DocStatus) error
}

// Repository is the pgx adapter for outstanding targets and payment vouchers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type targetTable struct {
	name         string
	counterparty string
}

func tableFor(party ledger.PartyType) (targetTable, error) {
	switch party {
	case ledger.PartyCustomer:
		return targetTable{name: "sales_invoices", counterparty: "customer_id"}, nil
	case ledger.PartySupplier:
		return targetTable{name: "purchase_invoices", counterparty: "supplier_id"}, nil
	default:
		return targetTable{}, allocation.ErrInvalidParty
	}
}

// OutstandingTargets implements allocation.TargetProvider.
func (r *Repository) OutstandingTargets(ctx context.Context, companyID int64, party ledger.PartyType, counterpartyID int64) ([]allocation.Target, error) {
	table, err := tableFor(party)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, number, %[2]s, invoice_date, due_date, grand_total::text, outstanding_amount::text, version
FROM %[1]s WHERE company_id=$1 AND %[2]s=$2 AND docstatus=1 AND outstanding_amount > 0
ORDER BY due_date, id`, table.name, table.counterparty)
	rows, err := r.pool.Query(ctx, query, companyID, counterpartyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var targets []allocation.Target
	for rows.Next() {
		var (
			t                  allocation.Target
			grand, outstanding string
		)
		if err := rows.Scan(&t.ID, &t.Number, &t.CounterpartyID, &t.InvoiceDate, &t.DueDate, &grand, &outstanding, &t.Version); err != nil {
			return nil, err
		}
		if t.GrandTotal, err = decimal.NewFromString(grand); err != nil {
			return nil, err
		}
		if t.Outstanding, err = decimal.NewFromString(outstanding); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// WithTx executes fn within a repeatable-read transaction. Serialization
// failures surface as ErrSnapshotStale.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("payments repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.TxFrom(tx)})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrSnapshotStale, err)
	}
	return err
}

type txRepository struct {
	tx     pgx.Tx
	ledger ledger.TxRepository
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledger
}

type targetDelta struct {
	id      int64
	version int64
	amount  decimal.Decimal
}

// mergeEntries folds repeated targets into one delta checked against the
// snapshot version of the first entry.
func mergeEntries(entries []allocation.Entry) []targetDelta {
	index := make(map[int64]int, len(entries))
	var deltas []targetDelta
	for _, e := range entries {
		if i, ok := index[e.TargetID]; ok {
			deltas[i].amount = deltas[i].amount.Add(e.AllocatedAmount)
			continue
		}
		index[e.TargetID] = len(deltas)
		deltas = append(deltas, targetDelta{id: e.TargetID, version: e.Version, amount: e.AllocatedAmount})
	}
	return deltas
}

func (r *txRepository) ApplyAllocations(ctx context.Context, companyID int64, party ledger.PartyType, entries []allocation.Entry) error {
	table, err := tableFor(party)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET outstanding_amount = outstanding_amount - $4::numeric, version = version + 1, updated_at = NOW()
WHERE id=$1 AND company_id=$2 AND version=$3 AND outstanding_amount >= $4::numeric`, table.name)
	for _, delta := range mergeEntries(entries) {
		tag, err := r.tx.Exec(ctx, query, delta.id, companyID, delta.version, delta.amount.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: target %d", ErrSnapshotStale, delta.id)
		}
	}
	return nil
}

func (r *txRepository) RestoreAllocations(ctx context.Context, p Payment) error {
	table, err := tableFor(p.PartyType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET outstanding_amount = outstanding_amount + $3::numeric, version = version + 1, updated_at = NOW()
WHERE id=$1 AND company_id=$2`, table.name)
	for _, delta := range mergeEntries(p.Allocations) {
		tag, err := r.tx.Exec(ctx, query, delta.id, p.CompanyID, delta.amount.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: target %d", ErrSnapshotStale, delta.id)
		}
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO payment_entries (company_id, voucher_no, party_type, counterparty_id, amount, currency,
exchange_rate, unallocated_amount, posting_date, mode, docstatus, created_by)
VALUES ($1,$2,$3,$4,$5::numeric,$6,$7::numeric,$8::numeric,$9,$10,$11,$12) RETURNING id`,
		p.CompanyID, p.VoucherNo, string(p.PartyType), p.CounterpartyID, p.Amount.String(), p.Currency,
		p.ExchangeRate.String(), p.Unallocated.String(), p.PostingDate, string(p.Mode), int(p.DocStatus), p.CreatedBy).Scan(&p.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_payment_entries_voucher") {
			return Payment{}, ledger.ErrVoucherAlreadyPosted
		}
		return Payment{}, err
	}
	for _, e := range p.Allocations {
		if _, err := r.tx.Exec(ctx, `INSERT INTO payment_allocations (payment_id, target_id, target_number, allocated_amount, outstanding_before, outstanding_after)
VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6::numeric)`,
			p.ID, e.TargetID, e.TargetNumber, e.AllocatedAmount.String(), e.OutstandingBefore.String(), e.OutstandingAfter.String()); err != nil {
			return Payment{}, err
		}
	}
	return p, nil
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, companyID int64, voucherNo string) (Payment, error) {
	var (
		p                         Payment
		amount, rate, unallocated string
		party, mode               string
		status                    int
	)
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, voucher_no, party_type, counterparty_id, amount::text, currency,
exchange_rate::text, unallocated_amount::text, posting_date, mode, docstatus, created_by
FROM payment_entries WHERE company_id=$1 AND voucher_no=$2 FOR UPDATE`, companyID, voucherNo).
		Scan(&p.ID, &p.CompanyID, &p.VoucherNo, &party, &p.CounterpartyID, &amount, &p.Currency,
			&rate, &unallocated, &p.PostingDate, &mode, &status, &p.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	p.PartyType = ledger.PartyType(party)
	p.Mode = allocation.Mode(mode)
	p.DocStatus = ledger.DocStatus(status)
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return Payment{}, err
	}
	if p.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return Payment{}, err
	}
	if p.Unallocated, err = decimal.NewFromString(unallocated); err != nil {
		return Payment{}, err
	}

	rows, err := r.tx.Query(ctx, `SELECT target_id, target_number, allocated_amount::text, outstanding_before::text, outstanding_after::text
FROM payment_allocations WHERE payment_id=$1 ORDER BY id`, p.ID)
	if err != nil {
		return Payment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e                        allocation.Entry
			allocated, before, after string
		)
		if err := rows.Scan(&e.TargetID, &e.TargetNumber, &allocated, &before, &after); err != nil {
			return Payment{}, err
		}
		var err error
		if e.AllocatedAmount, err = decimal.NewFromString(allocated); err != nil {
			return Payment{}, fmt.Errorf("parse allocated amount: %w", err)
		}
		if e.OutstandingBefore, err = decimal.NewFromString(before); err != nil {
			return Payment{}, fmt.Errorf("parse outstanding before: %w", err)
		}
		if e.OutstandingAfter, err = decimal.NewFromString(after); err != nil {
			return Payment{}, fmt.Errorf("parse outstanding after: %w", err)
		}
		p.Allocations = append(p.Allocations, e)
	}
	return p, rows.Err()
}

func (r *txRepository) UpdatePaymentStatus(ctx context.Context, id int64, status ledger.DocStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE payment_entries SET docstatus=$2, updated_at=$3 WHERE id=$1`, id, int(status), time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
