/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. All multi-record
 * operations run inside a single pgx transaction; balance writes are
 * conditional on both the optimistic version token and a non-negative
 * result, so the database is the final enforcement point for the ledger's
 * two hard invariants.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - When an atomic operation touches two accounts, the debit statement runs
 *   before the credit statement and rows lock in statement order; callers
 *   building multi-credit parameter sets must keep account ordering stable
 *   so concurrent operations lock in the same order.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const accountColumns = `id, group_id, owner_id, kind, balance, currency, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.GroupID, &a.OwnerID, &a.Kind, &a.Balance, &a.Currency, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetAccount retrieves a single account by its ID.
func (r *PostgresRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// GetGroupAccount retrieves one of a group's named balances.
func (r *PostgresRepository) GetGroupAccount(ctx context.Context, groupID uuid.UUID, kind domain.AccountKind) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE group_id = $1 AND kind = $2`
	return scanAccount(r.db.QueryRow(ctx, query, groupID, kind))
}

// FindWalletByUserID retrieves a user's personal wallet.
func (r *PostgresRepository) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND kind = 'wallet'`
	account, err := scanAccount(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrWalletNotFound
	}
	return account, err
}

// CreateWallet creates a zero-balance wallet for a user. A concurrent create
// resolves to the existing wallet rather than an error.
func (r *PostgresRepository) CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (id, owner_id, kind, balance, currency, version, created_at, updated_at)
		VALUES ($1, $2, 'wallet', 0, $3, 1, NOW(), NOW())
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRow(ctx, query, uuid.New(), userID, currency))
	if err != nil && isUniqueViolation(err) {
		return r.FindWalletByUserID(ctx, userID)
	}
	return account, err
}

// CreateGroupAccounts provisions the fixed account set for a new group.
func (r *PostgresRepository) CreateGroupAccounts(ctx context.Context, groupID uuid.UUID, currency string) ([]domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO accounts (id, group_id, kind, balance, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, 1, NOW(), NOW())
		RETURNING ` + accountColumns

	accounts := make([]domain.Account, 0, len(domain.GroupAccountKinds))
	for _, kind := range domain.GroupAccountKinds {
		account, err := scanAccount(tx.QueryRow(ctx, query, uuid.New(), groupID, kind, currency))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s account: %w", kind, err)
		}
		accounts = append(accounts, *account)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetGroup retrieves a group with its ordered membership.
func (r *PostgresRepository) GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	var g domain.Group
	query := `
		SELECT id, name, archetype, currency, current_cycle, contribution_amount, meeting_pool, created_at, updated_at
		FROM groups
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, groupID).Scan(
		&g.ID, &g.Name, &g.Archetype, &g.Currency, &g.CurrentCycle,
		&g.ContributionAmount, &g.MeetingPool, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}

	memberQuery := `
		SELECT id, group_id, user_id, role, position, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY position ASC
	`
	rows, err := r.db.Query(ctx, memberQuery, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.Position, &m.JoinedAt); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, m)
	}
	return &g, rows.Err()
}

const recordColumns = `id, group_id, type, amount, account_id, account_kind, actor_member_id,
		method, description, external_reference, verified_by, transfer_id, status, occurred_at`

func scanRecords(rows pgx.Rows) ([]domain.TransactionRecord, error) {
	defer rows.Close()
	var records []domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		err := rows.Scan(
			&rec.ID, &rec.GroupID, &rec.Type, &rec.Amount, &rec.AccountID, &rec.AccountKind,
			&rec.ActorMemberID, &rec.Method, &rec.Description, &rec.ExternalReference,
			&rec.VerifiedBy, &rec.TransferID, &rec.Status, &rec.OccurredAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AccountHistory retrieves the append-only log for one account, oldest first,
// optionally bounded by a date range.
func (r *PostgresRepository) AccountHistory(ctx context.Context, accountID uuid.UUID, dateRange domain.DateRange) ([]domain.TransactionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transactions
		WHERE account_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
		ORDER BY occurred_at ASC
	`
	var from, to *time.Time
	if !dateRange.From.IsZero() {
		from = &dateRange.From
	}
	if !dateRange.To.IsZero() {
		to = &dateRange.To
	}
	rows, err := r.db.Query(ctx, query, accountID, from, to)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// MemberHistory retrieves every movement a member initiated, oldest first.
// The sum of a member's completed contribution records must reconcile with
// their aggregate total.
func (r *PostgresRepository) MemberHistory(ctx context.Context, memberID uuid.UUID) ([]domain.TransactionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transactions
		WHERE actor_member_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := r.db.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// FindRecordByExternalReference looks up a gateway-confirmed movement by its
// external reference.
func (r *PostgresRepository) FindRecordByExternalReference(ctx context.Context, externalReference string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE external_reference = $1`
	rows, err := r.db.Query(ctx, query, externalReference)
	if err != nil {
		return nil, err
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &records[0], nil
}

// GetContributionAggregate retrieves a member's contribution standing with
// its full history.
func (r *PostgresRepository) GetContributionAggregate(ctx context.Context, groupID, memberID uuid.UUID) (*domain.MemberContributionAggregate, error) {
	var agg domain.MemberContributionAggregate
	query := `
		SELECT group_id, member_id, total, share_balance, updated_at
		FROM contribution_aggregates
		WHERE group_id = $1 AND member_id = $2
	`
	err := r.db.QueryRow(ctx, query, groupID, memberID).Scan(
		&agg.GroupID, &agg.MemberID, &agg.Total, &agg.ShareBalance, &agg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAggregateNotFound
		}
		return nil, err
	}

	entryQuery := `
		SELECT id, amount, occurred_at, method, verified_by, status, external_reference
		FROM contribution_entries
		WHERE group_id = $1 AND member_id = $2
		ORDER BY occurred_at ASC
	`
	rows, err := r.db.Query(ctx, entryQuery, groupID, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.ContributionEntry
		if err := rows.Scan(&e.ID, &e.Amount, &e.OccurredAt, &e.Method, &e.VerifiedBy, &e.Status, &e.ExternalReference); err != nil {
			return nil, err
		}
		agg.History = append(agg.History, e)
	}
	return &agg, rows.Err()
}

// ListMemberShares returns every member's aggregate in a group, used for
// pro-rata dividend distribution.
func (r *PostgresRepository) ListMemberShares(ctx context.Context, groupID uuid.UUID) ([]domain.MemberContributionAggregate, error) {
	query := `
		SELECT group_id, member_id, total, share_balance, updated_at
		FROM contribution_aggregates
		WHERE group_id = $1
		ORDER BY member_id ASC
	`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggregates []domain.MemberContributionAggregate
	for rows.Next() {
		var agg domain.MemberContributionAggregate
		if err := rows.Scan(&agg.GroupID, &agg.MemberID, &agg.Total, &agg.ShareBalance, &agg.UpdatedAt); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates, rows.Err()
}

// debitAccountTx applies a conditional debit inside tx. The statement only
// matches when the version is current and the balance covers the amount;
// zero rows are disambiguated with a follow-up read.
func debitAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount, expectedVersion int64) (int64, error) {
	var balance int64
	query := `
		UPDATE accounts
		SET balance = balance - $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3 AND balance >= $2
		RETURNING balance
	`
	err := tx.QueryRow(ctx, query, accountID, amount, expectedVersion).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if err != pgx.ErrNoRows {
		return 0, err
	}

	var currentVersion, currentBalance int64
	probe := `SELECT version, balance FROM accounts WHERE id = $1`
	if err := tx.QueryRow(ctx, probe, accountID).Scan(&currentVersion, &currentBalance); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	if currentVersion != expectedVersion {
		return 0, ErrConcurrencyConflict
	}
	return 0, ErrInsufficientFunds
}

// creditAccountTx applies an unconditional credit inside tx.
func creditAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64) (int64, error) {
	var balance int64
	query := `
		UPDATE accounts
		SET balance = balance + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`
	err := tx.QueryRow(ctx, query, accountID, amount).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

// insertRecordTx appends one immutable log row inside tx.
func insertRecordTx(ctx context.Context, tx pgx.Tx, rec domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (
			id, group_id, type, amount, account_id, account_kind, actor_member_id,
			method, description, external_reference, verified_by, transfer_id, status, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := tx.Exec(ctx, query,
		rec.ID, rec.GroupID, rec.Type, rec.Amount, rec.AccountID, rec.AccountKind,
		rec.ActorMemberID, rec.Method, rec.Description, rec.ExternalReference,
		rec.VerifiedBy, rec.TransferID, rec.Status, rec.OccurredAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateExternalReference
	}
	return err
}

// RecordContributionAtomic applies one contribution's complete effect: the
// optional wallet debit, every destination credit, the log rows, the history
// entry, and the aggregate recompute, in a single transaction.
func (r *PostgresRepository) RecordContributionAtomic(ctx context.Context, params ContributionParams) (*ContributionOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Debit the member's wallet when the contribution is wallet-funded.
	if params.WalletDebit != nil {
		if _, err := debitAccountTx(ctx, tx, params.WalletDebit.AccountID, params.WalletDebit.Amount, params.WalletDebit.ExpectedVersion); err != nil {
			return nil, err
		}
	}

	// 2. Credit every destination account.
	for _, credit := range params.Credits {
		if _, err := creditAccountTx(ctx, tx, credit.AccountID, credit.Amount); err != nil {
			return nil, fmt.Errorf("failed to credit %s account: %w", credit.Kind, err)
		}
	}

	// 3. Append the log rows.
	for _, rec := range params.Records {
		if err := insertRecordTx(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("failed to log contribution: %w", err)
		}
	}

	// 4. Append the history entry.
	entryQuery := `
		INSERT INTO contribution_entries (id, group_id, member_id, amount, occurred_at, method, verified_by, status, external_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, entryQuery,
		params.Entry.ID, params.GroupID, params.MemberID, params.Entry.Amount,
		params.Entry.OccurredAt, params.Entry.Method, params.Entry.VerifiedBy,
		params.Entry.Status, params.Entry.ExternalReference,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append contribution entry: %w", err)
	}

	// 5. Recompute the aggregate from the history so the invariant
	//    total == sum(verified entries) holds by construction.
	var total int64
	aggregateQuery := `
		INSERT INTO contribution_aggregates (group_id, member_id, total, share_balance, updated_at)
		VALUES (
			$1, $2,
			(SELECT COALESCE(SUM(amount), 0) FROM contribution_entries
			 WHERE group_id = $1 AND member_id = $2 AND status = 'completed'),
			$3, NOW()
		)
		ON CONFLICT (group_id, member_id)
		DO UPDATE SET
			total = (SELECT COALESCE(SUM(amount), 0) FROM contribution_entries
			         WHERE group_id = $1 AND member_id = $2 AND status = 'completed'),
			share_balance = contribution_aggregates.share_balance + $3,
			updated_at = NOW()
		RETURNING total
	`
	shareIncrease := int64(0)
	if params.UpdateShares {
		shareIncrease = params.ShareIncrease
	}
	if err := tx.QueryRow(ctx, aggregateQuery, params.GroupID, params.MemberID, shareIncrease).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to update contribution aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ContributionOutcome{AggregateTotal: total, Records: params.Records}, nil
}

// ExecuteTransferAtomic applies both legs of a transfer and their linked log
// rows in one transaction. A failed debit aborts with zero effect.
func (r *PostgresRepository) ExecuteTransferAtomic(ctx context.Context, params TransferParams) (*TransferOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	fromBalance, err := debitAccountTx(ctx, tx, params.FromAccountID, params.Amount, params.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	toBalance, err := creditAccountTx(ctx, tx, params.ToAccountID, params.Amount)
	if err != nil {
		return nil, err
	}
	for _, rec := range params.Records {
		if err := insertRecordTx(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("failed to log transfer leg: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &TransferOutcome{FromBalance: fromBalance, ToBalance: toBalance}, nil
}

// ExecuteRotationPayoutAtomic pays the pooled amount to the cycle recipient
// and advances the group cycle. The cycle update is guarded by the cycle the
// caller computed from, so two concurrent payouts cannot both apply.
func (r *PostgresRepository) ExecuteRotationPayoutAtomic(ctx context.Context, params RotationPayoutParams) (*TransferOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cycleQuery := `
		UPDATE groups
		SET current_cycle = current_cycle + 1, updated_at = NOW()
		WHERE id = $1 AND current_cycle = $2
	`
	tag, err := tx.Exec(ctx, cycleQuery, params.GroupID, params.FromCycle)
	if err != nil {
		return nil, fmt.Errorf("failed to advance group cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConcurrencyConflict
	}

	fromBalance, err := debitAccountTx(ctx, tx, params.FromAccountID, params.Amount, params.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	toBalance, err := creditAccountTx(ctx, tx, params.ToWalletID, params.Amount)
	if err != nil {
		return nil, err
	}
	for _, rec := range params.Records {
		if err := insertRecordTx(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("failed to log payout leg: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &TransferOutcome{FromBalance: fromBalance, ToBalance: toBalance}, nil
}

// DistributeDividendsAtomic debits the group account once and credits every
// member's share in the same transaction.
func (r *PostgresRepository) DistributeDividendsAtomic(ctx context.Context, params DividendParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var totalOut int64
	for _, credit := range params.Credits {
		totalOut += credit.Amount
	}
	if _, err := debitAccountTx(ctx, tx, params.FromAccountID, totalOut, params.ExpectedVersion); err != nil {
		return err
	}
	for _, credit := range params.Credits {
		if _, err := creditAccountTx(ctx, tx, credit.AccountID, credit.Amount); err != nil {
			return fmt.Errorf("failed to credit dividend: %w", err)
		}
	}
	for _, rec := range params.Records {
		if err := insertRecordTx(ctx, tx, rec); err != nil {
			return fmt.Errorf("failed to log dividend: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RecordExternalMovementAtomic records a gateway-confirmed deposit or
// withdrawal. The unique index on external_reference makes retried
// confirmations harmless.
func (r *PostgresRepository) RecordExternalMovementAtomic(ctx context.Context, params ExternalMovementParams) (*domain.TransactionRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Log first: the unique external_reference index rejects a duplicate
	// before any balance is touched.
	if err := insertRecordTx(ctx, tx, params.Record); err != nil {
		return nil, err
	}

	if params.Debit {
		account, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, params.AccountID))
		if err != nil {
			return nil, err
		}
		if _, err := debitAccountTx(ctx, tx, params.AccountID, params.Amount, account.Version); err != nil {
			return nil, err
		}
	} else {
		if _, err := creditAccountTx(ctx, tx, params.AccountID, params.Amount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	rec := params.Record
	return &rec, nil
}

const loanColumns = `id, group_id, borrower_id, principal, interest_rate, interest_type, term_months,
		processing_fee, total_repayable, amount_repaid, status, version,
		applied_at, disbursed_at, completed_at, next_payment_due`

func scanLoan(row pgx.Row) (*domain.Loan, error) {
	var l domain.Loan
	err := row.Scan(
		&l.ID, &l.GroupID, &l.BorrowerID, &l.Principal, &l.InterestRate, &l.InterestType,
		&l.TermMonths, &l.ProcessingFee, &l.TotalRepayable, &l.AmountRepaid, &l.Status,
		&l.Version, &l.AppliedAt, &l.DisbursedAt, &l.CompletedAt, &l.NextPaymentDue,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &l, nil
}

// CreateLoan persists a new pending loan with its guarantors and initial
// schedule.
func (r *PostgresRepository) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO loans (
			id, group_id, borrower_id, principal, interest_rate, interest_type, term_months,
			processing_fee, total_repayable, amount_repaid, status, version, applied_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, 1, $11)
	`
	_, err = tx.Exec(ctx, query,
		loan.ID, loan.GroupID, loan.BorrowerID, loan.Principal, loan.InterestRate,
		loan.InterestType, loan.TermMonths, loan.ProcessingFee, loan.TotalRepayable,
		loan.Status, loan.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}

	for _, g := range loan.Guarantors {
		_, err := tx.Exec(ctx,
			`INSERT INTO loan_guarantors (loan_id, member_id, approved, approved_at) VALUES ($1, $2, $3, $4)`,
			loan.ID, g.MemberID, g.Approved, g.ApprovedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert guarantor: %w", err)
		}
	}

	if err := replaceScheduleTx(ctx, tx, loan.ID, loan.Schedule); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// replaceScheduleTx swaps a loan's installment rows for a freshly computed
// schedule.
func replaceScheduleTx(ctx context.Context, tx pgx.Tx, loanID uuid.UUID, schedule []domain.Installment) error {
	if _, err := tx.Exec(ctx, `DELETE FROM loan_installments WHERE loan_id = $1`, loanID); err != nil {
		return fmt.Errorf("failed to clear prior schedule: %w", err)
	}
	query := `
		INSERT INTO loan_installments (loan_id, number, due_date, total, principal_portion, interest_portion, paid, paid_amount, late_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, inst := range schedule {
		_, err := tx.Exec(ctx, query,
			loanID, inst.Number, inst.DueDate, inst.Total, inst.PrincipalPortion,
			inst.InterestPortion, inst.Paid, inst.PaidAmount, inst.LateFee,
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

// updateInstallmentsTx writes back paid/fee state for an existing schedule.
func updateInstallmentsTx(ctx context.Context, tx pgx.Tx, loanID uuid.UUID, schedule []domain.Installment) error {
	query := `
		UPDATE loan_installments
		SET paid = $3, paid_amount = $4, late_fee = $5
		WHERE loan_id = $1 AND number = $2
	`
	for _, inst := range schedule {
		tag, err := tx.Exec(ctx, query, loanID, inst.Number, inst.Paid, inst.PaidAmount, inst.LateFee)
		if err != nil {
			return fmt.Errorf("failed to update installment %d: %w", inst.Number, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("installment %d missing for loan %s", inst.Number, loanID)
		}
	}
	return nil
}

// updateLoanTx writes the loan's mutable columns, guarded by the version the
// caller loaded.
func updateLoanTx(ctx context.Context, tx pgx.Tx, loan *domain.Loan, expectedVersion int64) error {
	query := `
		UPDATE loans
		SET total_repayable = $2, amount_repaid = $3, status = $4, version = version + 1,
		    disbursed_at = $5, completed_at = $6, next_payment_due = $7
		WHERE id = $1 AND version = $8
	`
	tag, err := tx.Exec(ctx, query,
		loan.ID, loan.TotalRepayable, loan.AmountRepaid, loan.Status,
		loan.DisbursedAt, loan.CompletedAt, loan.NextPaymentDue, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM loans WHERE id = $1)`, loan.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrLoanNotFound
		}
		return ErrConcurrencyConflict
	}
	return nil
}

// GetLoan retrieves a loan with its guarantors and schedule.
func (r *PostgresRepository) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := scanLoan(r.db.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID))
	if err != nil {
		return nil, err
	}

	guarantorRows, err := r.db.Query(ctx,
		`SELECT member_id, approved, approved_at FROM loan_guarantors WHERE loan_id = $1 ORDER BY member_id`, loanID)
	if err != nil {
		return nil, err
	}
	defer guarantorRows.Close()
	for guarantorRows.Next() {
		var g domain.Guarantor
		if err := guarantorRows.Scan(&g.MemberID, &g.Approved, &g.ApprovedAt); err != nil {
			return nil, err
		}
		loan.Guarantors = append(loan.Guarantors, g)
	}
	if err := guarantorRows.Err(); err != nil {
		return nil, err
	}

	installmentRows, err := r.db.Query(ctx, `
		SELECT number, due_date, total, principal_portion, interest_portion, paid, paid_amount, late_fee
		FROM loan_installments
		WHERE loan_id = $1
		ORDER BY number ASC
	`, loanID)
	if err != nil {
		return nil, err
	}
	defer installmentRows.Close()
	for installmentRows.Next() {
		var inst domain.Installment
		if err := installmentRows.Scan(&inst.Number, &inst.DueDate, &inst.Total, &inst.PrincipalPortion,
			&inst.InterestPortion, &inst.Paid, &inst.PaidAmount, &inst.LateFee); err != nil {
			return nil, err
		}
		loan.Schedule = append(loan.Schedule, inst)
	}
	return loan, installmentRows.Err()
}

// ListLoansByBorrower retrieves a borrower's loans without schedules, newest
// first.
func (r *PostgresRepository) ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE borrower_id = $1 ORDER BY applied_at DESC`
	rows, err := r.db.Query(ctx, query, borrowerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []domain.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *loan)
	}
	return loans, rows.Err()
}

// RecordGuarantorApproval marks one guarantor's sign-off and returns the
// refreshed loan. Only pending loans accept approvals.
func (r *PostgresRepository) RecordGuarantorApproval(ctx context.Context, loanID, memberID uuid.UUID, approvedAt time.Time) (*domain.Loan, error) {
	query := `
		UPDATE loan_guarantors
		SET approved = TRUE, approved_at = $3
		WHERE loan_id = $1 AND member_id = $2
		  AND EXISTS (SELECT 1 FROM loans WHERE id = $1 AND status = 'pending')
	`
	tag, err := r.db.Exec(ctx, query, loanID, memberID, approvedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrMemberNotFound
	}
	return r.GetLoan(ctx, loanID)
}

// UpdateLoanStatus applies a bare status transition (approve, reject,
// default) guarded by the expected current status and version.
func (r *PostgresRepository) UpdateLoanStatus(ctx context.Context, loanID uuid.UUID, from, to domain.LoanStatus, expectedVersion int64, at time.Time) error {
	var completedAt *time.Time
	if to == domain.LoanCompleted || to == domain.LoanDefaulted {
		completedAt = &at
	}
	query := `
		UPDATE loans
		SET status = $2, version = version + 1, completed_at = COALESCE($3, completed_at)
		WHERE id = $1 AND status = $4 AND version = $5
	`
	tag, err := r.db.Exec(ctx, query, loanID, to, completedAt, from, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM loans WHERE id = $1)`, loanID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrLoanNotFound
		}
		return ErrConcurrencyConflict
	}
	return nil
}

// DisburseLoanAtomic moves the disbursed amount, swaps in the recomputed
// schedule, and advances the loan to disbursed, all in one transaction.
func (r *PostgresRepository) DisburseLoanAtomic(ctx context.Context, params DisbursementParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Move the funds: group loans debit the group's loan fund, personal
	//    loans credit the wallet directly.
	if params.SourceAccountID != nil {
		account, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, *params.SourceAccountID))
		if err != nil {
			return err
		}
		if _, err := debitAccountTx(ctx, tx, *params.SourceAccountID, params.Amount, account.Version); err != nil {
			return err
		}
	}
	if _, err := creditAccountTx(ctx, tx, params.DestinationWalletID, params.Amount); err != nil {
		return err
	}

	// 2. Swap in the schedule recomputed from the disbursement date.
	if err := replaceScheduleTx(ctx, tx, params.Loan.ID, params.Loan.Schedule); err != nil {
		return err
	}

	// 3. Advance the loan record.
	if err := updateLoanTx(ctx, tx, params.Loan, params.ExpectedLoanVersion); err != nil {
		return err
	}

	// 4. Append the log rows.
	for _, rec := range params.Records {
		if err := insertRecordTx(ctx, tx, rec); err != nil {
			return fmt.Errorf("failed to log disbursement: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ApplyRepaymentAtomic persists an updated schedule together with the
// repayment's money movement.
func (r *PostgresRepository) ApplyRepaymentAtomic(ctx context.Context, params RepaymentParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.PayerWalletDebit != nil {
		if _, err := debitAccountTx(ctx, tx, params.PayerWalletDebit.AccountID, params.PayerWalletDebit.Amount, params.PayerWalletDebit.ExpectedVersion); err != nil {
			return err
		}
	}
	for _, credit := range params.Credits {
		if _, err := creditAccountTx(ctx, tx, credit.AccountID, credit.Amount); err != nil {
			return fmt.Errorf("failed to credit %s account: %w", credit.Kind, err)
		}
	}
	if err := updateInstallmentsTx(ctx, tx, params.Loan.ID, params.Loan.Schedule); err != nil {
		return err
	}
	if err := updateLoanTx(ctx, tx, params.Loan, params.ExpectedLoanVersion); err != nil {
		return err
	}
	for _, rec := range params.Records {
		if err := insertRecordTx(ctx, tx, rec); err != nil {
			return fmt.Errorf("failed to log repayment: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SaveLateFeeAssessmentAtomic persists a fee assessment: the adjusted
// installments, the raised repayable total, the fines-account credit, and
// the log row.
func (r *PostgresRepository) SaveLateFeeAssessmentAtomic(ctx context.Context, params LateFeeParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateInstallmentsTx(ctx, tx, params.Loan.ID, params.Loan.Schedule); err != nil {
		return err
	}
	if err := updateLoanTx(ctx, tx, params.Loan, params.ExpectedLoanVersion); err != nil {
		return err
	}
	if params.FinesCredit != nil {
		if _, err := creditAccountTx(ctx, tx, params.FinesCredit.AccountID, params.FinesCredit.Amount); err != nil {
			return fmt.Errorf("failed to credit fines account: %w", err)
		}
	}
	if params.Record != nil {
		if err := insertRecordTx(ctx, tx, *params.Record); err != nil {
			return fmt.Errorf("failed to log fine: %w", err)
		}
	}

	return tx.Commit(ctx)
}
