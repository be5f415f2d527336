package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/unclejonsbank/backend/internal/acl"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/ledger"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const loanColumns = `id, child_id, parent_id, amount, purpose, interest_rate, terms, status, principal_remaining, last_interest_applied, created_at`

type LoanService struct {
	db     *sql.DB
	access *AccessService
	ledger *LedgerService
	audit  *audit.AuditLogger
	logger *zap.Logger
	now    func() time.Time
}

func NewLoanService(db *sql.DB, access *AccessService, ledger *LedgerService, auditLogger *audit.AuditLogger, logger *zap.Logger) *LoanService {
	return &LoanService{
		db:     db,
		access: access,
		ledger: ledger,
		audit:  auditLogger,
		logger: logger,
		now:    time.Now,
	}
}

func scanLoan(row scanner) (*models.Loan, error) {
	var l models.Loan
	err := row.Scan(&l.ID, &l.ChildID, &l.ParentID, &l.Amount, &l.Purpose, &l.InterestRate, &l.Terms, &l.Status,
		&l.PrincipalRemaining, &l.LastInterestApplied, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLoans(rows *sql.Rows) ([]models.Loan, error) {
	defer rows.Close()
	out := []models.Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *LoanService) lock(ctx context.Context, q querier, id int64) (*models.Loan, error) {
	l, err := scanLoan(q.QueryRowContext(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE id = $1
		FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("loan not found")
	}
	return l, err
}

func (s *LoanService) record(ctx context.Context, q querier, loanID int64, typ models.LoanTxType, amount decimal.Decimal, memo string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO loan_transactions (loan_id, type, amount, memo, timestamp)
		VALUES ($1, $2, $3, $4, $5)`, loanID, typ, amount, models.StringPtr(memo), s.now().UTC())
	return err
}

// update writes the mutable loan columns, conditional on the status the
// caller locked.
func (s *LoanService) update(ctx context.Context, q querier, l *models.Loan, from models.LoanStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE loans
		SET status = $1, interest_rate = $2, terms = $3, parent_id = $4, principal_remaining = $5, last_interest_applied = $6
		WHERE id = $7 AND status = $8`,
		l.Status, l.InterestRate, l.Terms, l.ParentID, l.PrincipalRemaining, l.LastInterestApplied, l.ID, from)
	if err != nil {
		return err
	}
	return expectOne(res, conflictError("loan already processed"))
}

// Request opens a loan request for the calling child.
func (s *LoanService) Request(ctx context.Context, ident *models.Identity, amount decimal.Decimal, purpose string) (*models.Loan, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	child, err := lockChild(ctx, tx, ident.ChildID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveChild(child); err != nil {
		return nil, err
	}

	l := &models.Loan{
		ChildID:            child.ID,
		Amount:             amount,
		Purpose:            models.StringPtr(purpose),
		InterestRate:       decimal.Zero,
		Status:             models.LoanRequested,
		PrincipalRemaining: decimal.Zero,
		CreatedAt:          s.now().UTC(),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO loans (child_id, amount, purpose, interest_rate, status, principal_remaining, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, l.ChildID, l.Amount, l.Purpose, l.InterestRate, l.Status, l.PrincipalRemaining, l.CreatedAt).Scan(&l.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("loan requested", zap.Int64("loan_id", l.ID), zap.Int64("child_id", l.ChildID))
	return l, nil
}

func (s *LoanService) Mine(ctx context.Context, ident *models.Identity) ([]models.Loan, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE child_id = $1
		ORDER BY created_at DESC, id DESC`, ident.ChildID)
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

func (s *LoanService) ForChild(ctx context.Context, ident *models.Identity, childID int64) ([]models.Loan, error) {
	if err := s.access.AuthorizeAny(ctx, s.db, ident, childID, acl.ViewTransactions, acl.OfferLoan, acl.ManageLoan); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE child_id = $1
		ORDER BY created_at DESC, id DESC`, childID)
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

// Approve sets the terms of a requested loan. No funds move.
func (s *LoanService) Approve(ctx context.Context, ident *models.Identity, id int64, rate decimal.Decimal, terms string) (*models.Loan, error) {
	if rate.IsNegative() {
		return nil, validationError("interest_rate must not be negative")
	}
	return s.parentDecision(ctx, ident, id, models.LoanApprove, func(l *models.Loan) {
		l.InterestRate = rate
		l.Terms = models.StringPtr(terms)
	})
}

func (s *LoanService) Deny(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error) {
	return s.parentDecision(ctx, ident, id, models.LoanDeny, nil)
}

func (s *LoanService) parentDecision(ctx context.Context, ident *models.Identity, id int64, event models.LoanEvent, apply func(*models.Loan)) (*models.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, l.ChildID, acl.OfferLoan); err != nil {
		return nil, err
	}

	from := l.Status
	to, err := advance(models.LoanMachine, from, event)
	if err != nil {
		return nil, conflictError("loan is %s", from)
	}
	l.Status = to
	if ident.IsParent() {
		parent := ident.UserID
		l.ParentID = &parent
	}
	if apply != nil {
		apply(l)
	}
	if err := s.update(ctx, tx, l, from); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.LoanMachine.Name(), l.ID, l.ChildID, string(from), string(to), ident)
	return l, nil
}

// Accept activates an approved loan and credits the full amount to the child.
func (s *LoanService) Accept(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if l.ChildID != ident.ChildID {
		return nil, notFoundError("loan not found")
	}
	child, err := lockChild(ctx, tx, l.ChildID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveChild(child); err != nil {
		return nil, err
	}

	from := l.Status
	to, err := advance(models.LoanMachine, from, models.LoanAccept)
	if err != nil {
		return nil, conflictError("loan is %s", from)
	}
	today := ledger.Day(s.now())
	l.Status = to
	l.PrincipalRemaining = l.Amount
	l.LastInterestApplied = &today
	if err := s.update(ctx, tx, l, from); err != nil {
		return nil, err
	}

	posting := &models.Transaction{
		ChildID:     l.ChildID,
		Type:        models.Credit,
		Amount:      l.Amount,
		Memo:        models.StringPtr(fmt.Sprintf("Loan #%d disbursement", l.ID)),
		Kind:        models.KindLoan,
		InitiatedBy: models.InitiatedByChild,
		InitiatorID: l.ChildID,
	}
	if err := s.ledger.post(ctx, tx, posting); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, l.ID, models.LoanTxDisbursement, l.Amount, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.ledger.committed(ctx, posting)
	s.audit.LogTransition(models.LoanMachine.Name(), l.ID, l.ChildID, string(from), string(to), ident)
	return l, nil
}

// Decline turns down an approved loan. Nothing is posted.
func (s *LoanService) Decline(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if l.ChildID != ident.ChildID {
		return nil, notFoundError("loan not found")
	}

	from := l.Status
	to, err := advance(models.LoanMachine, from, models.LoanDecline)
	if err != nil {
		return nil, conflictError("loan is %s", from)
	}
	l.Status = to
	if err := s.update(ctx, tx, l, from); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.LoanMachine.Name(), l.ID, l.ChildID, string(from), string(to), ident)
	return l, nil
}

// Payment records a repayment. Amounts above the remaining principal are
// clamped, only the applied part is debited, and the loan closes at zero.
func (s *LoanService) Payment(ctx context.Context, ident *models.Identity, id int64, amount decimal.Decimal) (*models.Loan, error) {
	if !amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, l.ChildID, acl.ManageLoan); err != nil {
		return nil, err
	}
	if _, err := lockChild(ctx, tx, l.ChildID); err != nil {
		return nil, err
	}

	from := l.Status
	to, err := advance(models.LoanMachine, from, models.LoanPayment)
	if err != nil {
		return nil, conflictError("loan is %s", from)
	}

	// Interest up to today lands before the payment reduces principal.
	interest, err := s.accrue(ctx, tx, l, ledger.Day(s.now()))
	if err != nil {
		return nil, err
	}

	applied := decimal.Min(amount, l.PrincipalRemaining)
	if !applied.IsPositive() {
		return nil, conflictError("loan has no principal remaining")
	}
	l.PrincipalRemaining = l.PrincipalRemaining.Sub(applied)
	closing := l.PrincipalRemaining.IsZero()
	if closing {
		if to, err = advance(models.LoanMachine, to, models.LoanClose); err != nil {
			return nil, err
		}
	}
	l.Status = to
	if err := s.update(ctx, tx, l, from); err != nil {
		return nil, err
	}

	initiator, initiatorID := ident.Initiator()
	posting := &models.Transaction{
		ChildID:     l.ChildID,
		Type:        models.Debit,
		Amount:      applied,
		Memo:        models.StringPtr(fmt.Sprintf("Loan #%d payment", l.ID)),
		Kind:        models.KindLoan,
		InitiatedBy: initiator,
		InitiatorID: initiatorID,
	}
	if err := s.ledger.post(ctx, tx, posting); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, l.ID, models.LoanTxPayment, applied, ""); err != nil {
		return nil, err
	}
	if closing {
		if err := s.record(ctx, tx, l.ID, models.LoanTxClose, decimal.Zero, "paid off"); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.ledger.committed(ctx, interest, posting)
	if from != to {
		s.audit.LogTransition(models.LoanMachine.Name(), l.ID, l.ChildID, string(from), string(to), ident)
	}
	return l, nil
}

// SetRate changes the rate of an active loan. Interest up to today is
// accrued at the old rate first.
func (s *LoanService) SetRate(ctx context.Context, ident *models.Identity, id int64, rate decimal.Decimal) (*models.Loan, error) {
	if rate.IsNegative() {
		return nil, validationError("interest_rate must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, l.ChildID, acl.ManageLoan); err != nil {
		return nil, err
	}

	from := l.Status
	to, err := advance(models.LoanMachine, from, models.LoanSetRate)
	if err != nil {
		return nil, conflictError("loan is %s", from)
	}

	posting, err := s.accrue(ctx, tx, l, ledger.Day(s.now()))
	if err != nil {
		return nil, err
	}
	l.Status = to
	l.InterestRate = rate
	if err := s.update(ctx, tx, l, from); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, l.ID, models.LoanTxRateChange, rate, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.ledger.committed(ctx, posting)
	return l, nil
}

// Close ends an active loan, forgiving any remaining principal. Closing a
// loan that is not active is a conflict.
func (s *LoanService) Close(ctx context.Context, ident *models.Identity, id int64) (*models.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Authorize(ctx, tx, ident, l.ChildID, acl.ManageLoan); err != nil {
		return nil, err
	}

	from := l.Status
	to, err := advance(models.LoanMachine, from, models.LoanClose)
	if err != nil {
		return nil, conflictError("loan is already %s", from)
	}
	forgiven := l.PrincipalRemaining
	l.Status = to
	l.PrincipalRemaining = decimal.Zero
	if err := s.update(ctx, tx, l, from); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, l.ID, models.LoanTxClose, forgiven, "closed"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogTransition(models.LoanMachine.Name(), l.ID, l.ChildID, string(from), string(to), ident)
	return l, nil
}

// Transactions returns the loan's own history.
func (s *LoanService) Transactions(ctx context.Context, ident *models.Identity, id int64) ([]models.LoanTransaction, error) {
	l, err := scanLoan(s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("loan not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.access.AuthorizeAny(ctx, s.db, ident, l.ChildID, acl.ViewTransactions, acl.ManageLoan); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, type, amount, memo, timestamp
		FROM loan_transactions
		WHERE loan_id = $1
		ORDER BY timestamp, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.LoanTransaction{}
	for rows.Next() {
		var t models.LoanTransaction
		if err := rows.Scan(&t.ID, &t.LoanID, &t.Type, &t.Amount, &t.Memo, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// accrue charges interest on l for every day since it was last applied, up
// to today. Interest is simple because principal never grows. It returns
// the posting (nil when nothing was due) and moves LastInterestApplied.
func (s *LoanService) accrue(ctx context.Context, q querier, l *models.Loan, today time.Time) (*models.Transaction, error) {
	start := ledger.Day(l.CreatedAt)
	if l.LastInterestApplied != nil {
		start = ledger.Day(*l.LastInterestApplied)
	}
	days := int(today.Sub(start).Hours() / 24)
	l.LastInterestApplied = &today
	if days <= 0 {
		return nil, nil
	}

	daily := models.Cents(l.PrincipalRemaining.Mul(l.InterestRate))
	interest := daily.Mul(decimal.NewFromInt(int64(days)))
	if !interest.IsPositive() {
		return nil, nil
	}

	posting := &models.Transaction{
		ChildID:     l.ChildID,
		Type:        models.Debit,
		Amount:      interest,
		Memo:        models.StringPtr(fmt.Sprintf("Loan #%d interest (%d days)", l.ID, days)),
		Kind:        models.KindLoanInterest,
		InitiatedBy: models.InitiatedBySystem,
		Timestamp:   today,
	}
	if err := s.ledger.post(ctx, q, posting); err != nil {
		return nil, err
	}
	if err := s.record(ctx, q, l.ID, models.LoanTxInterest, interest, ""); err != nil {
		return nil, err
	}
	return posting, nil
}

// AccrueInterest charges interest on every active loan behind today. Each
// loan runs in its own transaction; it returns the number of postings.
func (s *LoanService) AccrueInterest(ctx context.Context, today time.Time) (int, error) {
	today = ledger.Day(today)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM loans
		WHERE status = $1 AND (last_interest_applied IS NULL OR last_interest_applied < $2)
		ORDER BY id`, models.LoanActive, today)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	posted := 0
	for _, id := range ids {
		ok, err := s.accrueOne(ctx, id, today)
		if err != nil {
			s.logger.Error("loan interest", zap.Int64("loan_id", id), zap.Error(err))
			s.audit.LogError("loan_interest", 0, err)
			continue
		}
		if ok {
			posted++
		}
	}
	return posted, nil
}

func (s *LoanService) accrueOne(ctx context.Context, id int64, today time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	l, err := s.lock(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if l.Status != models.LoanActive {
		return false, nil
	}

	posting, err := s.accrue(ctx, tx, l, today)
	if err != nil {
		return false, err
	}
	if err := s.update(ctx, tx, l, l.Status); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.ledger.committed(ctx, posting)
	return posting != nil, nil
}
