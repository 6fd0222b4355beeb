package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrPostingNotFound indicates no posting exists for the voucher.
	ErrPostingNotFound = errors.New("ledger: posting not found")
	// ErrVoucherAlreadyPosted indicates the voucher already owns a posting.
	ErrVoucherAlreadyPosted = errors.New("ledger: voucher already posted")
)

// VoucherKey identifies a posting within a company.
type VoucherKey struct {
	CompanyID   int64
	VoucherType VoucherType
	VoucherNo   string
}

// Key returns the voucher identity of p.
func (p Posting) Key() VoucherKey {
	return VoucherKey{CompanyID: p.CompanyID, VoucherType: p.VoucherType, VoucherNo: p.VoucherNo}
}

// TxRepository exposes the transactional GL operations.
type TxRepository interface {
	InsertPosting(ctx context.Context, p Posting) (Posting, error)
	GetPosting(ctx context.Context, key VoucherKey) (Posting, error)
	MarkCancelled(ctx context.Context, reversal Posting) error
	ListPostings(ctx context.Context, companyID int64, from, to time.Time) ([]Posting, error)
}

// Repository persists postings in gl_vouchers and gl_entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, TxFrom(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// TxFrom binds the GL operations to a transaction owned by another repository.
func TxFrom(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertPosting(ctx context.Context, p Posting) (Posting, error) {
	var voucherID int64
	err := r.tx.QueryRow(ctx, `INSERT INTO gl_vouchers (company_id, voucher_type, voucher_no, posting_date, base_currency, total_debit, total_credit, doc_status)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8) RETURNING id`,
		p.CompanyID, string(p.VoucherType), p.VoucherNo, p.PostingDate, p.BaseCurrency,
		p.TotalDebit.String(), p.TotalCredit.String(), int(DocStatusSubmitted)).Scan(&voucherID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_gl_vouchers" {
			return Posting{}, ErrVoucherAlreadyPosted
		}
		return Posting{}, err
	}
	for i := range p.Entries {
		id, err := r.insertEntry(ctx, voucherID, p.Entries[i], false)
		if err != nil {
			return Posting{}, err
		}
		p.Entries[i].ID = id
	}
	return p, nil
}

func (r *txRepository) insertEntry(ctx context.Context, voucherID int64, e GLEntry, reversal bool) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO gl_entries (voucher_id, company_id, account_id, posting_date, due_date,
debit, credit, account_currency, debit_in_account_currency, credit_in_account_currency,
transaction_currency, debit_in_transaction_currency, credit_in_transaction_currency, transaction_exchange_rate,
against_voucher_type, against_voucher, cost_center, project, party_type, party_id,
is_opening, is_advance, is_cancelled, is_reversal, doc_status, remarks)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9::numeric,$10::numeric,$11,$12::numeric,$13::numeric,$14::numeric,
$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26) RETURNING id`,
		voucherID, e.CompanyID, e.AccountID, e.PostingDate, e.DueDate,
		e.Debit.String(), e.Credit.String(), e.AccountCurrency, e.DebitInAccountCurrency.String(), e.CreditInAccountCurrency.String(),
		nullString(e.TransactionCurrency), nullDecimal(e.HasTransactionCurrency(), e.DebitInTransactionCurrency),
		nullDecimal(e.HasTransactionCurrency(), e.CreditInTransactionCurrency), nullDecimal(e.HasTransactionCurrency(), e.TransactionExchangeRate),
		nullString(string(e.AgainstVoucherType)), nullString(e.AgainstVoucher), nullString(e.CostCenter), nullString(e.Project),
		nullString(string(e.PartyType)), nullInt(e.PartyID),
		e.IsOpening, e.IsAdvance, e.IsCancelled, reversal, int(e.DocStatus), e.Remarks).Scan(&id)
	return id, err
}

func (r *txRepository) GetPosting(ctx context.Context, key VoucherKey) (Posting, error) {
	var (
		p         Posting
		voucherID int64
		debit     string
		credit    string
	)
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, voucher_type, voucher_no, posting_date, base_currency, total_debit::text, total_credit::text
FROM gl_vouchers WHERE company_id=$1 AND voucher_type=$2 AND voucher_no=$3 FOR UPDATE`,
		key.CompanyID, string(key.VoucherType), key.VoucherNo).
		Scan(&voucherID, &p.CompanyID, &p.VoucherType, &p.VoucherNo, &p.PostingDate, &p.BaseCurrency, &debit, &credit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Posting{}, ErrPostingNotFound
		}
		return Posting{}, err
	}
	if p.TotalDebit, err = decimal.NewFromString(debit); err != nil {
		return Posting{}, err
	}
	if p.TotalCredit, err = decimal.NewFromString(credit); err != nil {
		return Posting{}, err
	}
	p.Balanced = p.TotalDebit.Equal(p.TotalCredit)
	entries, err := r.entries(ctx, voucherID, p)
	if err != nil {
		return Posting{}, err
	}
	p.Entries = entries
	return p, nil
}

const entryColumns = `id, account_id, due_date, debit::text, credit::text, account_currency,
debit_in_account_currency::text, credit_in_account_currency::text,
COALESCE(transaction_currency, ''), COALESCE(debit_in_transaction_currency, 0)::text,
COALESCE(credit_in_transaction_currency, 0)::text, COALESCE(transaction_exchange_rate, 0)::text,
COALESCE(against_voucher_type, ''), COALESCE(against_voucher, ''), COALESCE(cost_center, ''), COALESCE(project, ''),
COALESCE(party_type, ''), COALESCE(party_id, 0), is_opening, is_advance, is_cancelled, doc_status, remarks`

func (r *txRepository) entries(ctx context.Context, voucherID int64, p Posting) ([]GLEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+`
FROM gl_entries WHERE voucher_id=$1 AND NOT is_reversal ORDER BY id ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []GLEntry
	for rows.Next() {
		var (
			e       GLEntry
			amounts [8]string
			status  int
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.DueDate, &amounts[0], &amounts[1], &e.AccountCurrency,
			&amounts[2], &amounts[3], &e.TransactionCurrency, &amounts[4], &amounts[5], &amounts[6],
			&e.AgainstVoucherType, &e.AgainstVoucher, &e.CostCenter, &e.Project, &e.PartyType, &e.PartyID,
			&e.IsOpening, &e.IsAdvance, &e.IsCancelled, &status, &e.Remarks); err != nil {
			return nil, err
		}
		targets := []*decimal.Decimal{&e.Debit, &e.Credit, &e.DebitInAccountCurrency, &e.CreditInAccountCurrency,
			&e.DebitInTransactionCurrency, &e.CreditInTransactionCurrency, &e.TransactionExchangeRate}
		for i, dst := range targets {
			if *dst, err = decimal.NewFromString(amounts[i]); err != nil {
				return nil, err
			}
		}
		e.CompanyID = p.CompanyID
		e.VoucherType = p.VoucherType
		e.VoucherNo = p.VoucherNo
		e.PostingDate = p.PostingDate
		e.DocStatus = DocStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) MarkCancelled(ctx context.Context, reversal Posting) error {
	var (
		voucherID int64
		status    int
	)
	err := r.tx.QueryRow(ctx, `SELECT id, doc_status FROM gl_vouchers WHERE company_id=$1 AND voucher_type=$2 AND voucher_no=$3 FOR UPDATE`,
		reversal.CompanyID, string(reversal.VoucherType), reversal.VoucherNo).Scan(&voucherID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPostingNotFound
		}
		return err
	}
	if DocStatus(status) != DocStatusSubmitted {
		return ErrAlreadyCancelled
	}
	if _, err := r.tx.Exec(ctx, `UPDATE gl_entries SET is_cancelled=TRUE, doc_status=$2 WHERE voucher_id=$1`,
		voucherID, int(DocStatusCancelled)); err != nil {
		return err
	}
	for _, e := range reversal.Entries {
		if _, err := r.insertEntry(ctx, voucherID, e, true); err != nil {
			return err
		}
	}
	_, err = r.tx.Exec(ctx, `UPDATE gl_vouchers SET doc_status=$2, cancelled_at=NOW() WHERE id=$1`,
		voucherID, int(DocStatusCancelled))
	return err
}

func (r *txRepository) ListPostings(ctx context.Context, companyID int64, from, to time.Time) ([]Posting, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, company_id, voucher_type, voucher_no, posting_date, base_currency, total_debit::text, total_credit::text
FROM gl_vouchers WHERE company_id=$1 AND doc_status=$2 AND posting_date BETWEEN $3 AND $4 ORDER BY posting_date, id`,
		companyID, int(DocStatusSubmitted), from, to)
	if err != nil {
		return nil, err
	}
	type header struct {
		id int64
		p  Posting
	}
	var headers []header
	for rows.Next() {
		var (
			h             header
			debit, credit string
		)
		if err := rows.Scan(&h.id, &h.p.CompanyID, &h.p.VoucherType, &h.p.VoucherNo, &h.p.PostingDate, &h.p.BaseCurrency, &debit, &credit); err != nil {
			rows.Close()
			return nil, err
		}
		var err error
		if h.p.TotalDebit, err = decimal.NewFromString(debit); err != nil {
			rows.Close()
			return nil, err
		}
		if h.p.TotalCredit, err = decimal.NewFromString(credit); err != nil {
			rows.Close()
			return nil, err
		}
		h.p.Balanced = h.p.TotalDebit.Equal(h.p.TotalCredit)
		headers = append(headers, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	postings := make([]Posting, 0, len(headers))
	for _, h := range headers {
		entries, err := r.entries(ctx, h.id, h.p)
		if err != nil {
			return nil, err
		}
		h.p.Entries = entries
		postings = append(postings, h.p)
	}
	return postings, nil
}

// CompanyIDs lists companies owning submitted postings.
func (r *Repository) CompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM gl_vouchers WHERE doc_status=$1 ORDER BY company_id`, int(DocStatusSubmitted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullDecimal(valid bool, val decimal.Decimal) any {
	if !valid {
		return nil
	}
	return val.String()
}
