package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const (
	badgeFromQuiz   = "quiz"
	badgeFromParent = "parent"
)

var catalog = []models.EducationModule{
	{
		ID:        1,
		Slug:      "saving-basics",
		Title:     "Saving Basics",
		BadgeName: "Super Saver",
		Content: "Saving means keeping some of your money for later instead of spending it all now. " +
			"Money you save in your account can earn interest, which is extra money the bank pays you for keeping it there.",
		Questions: []models.QuizQuestion{
			{Prompt: "What does saving mean?", Options: []string{"Spending everything now", "Keeping money for later", "Borrowing money"}, Answer: 1},
			{Prompt: "What is interest on savings?", Options: []string{"Money the bank pays you", "A fee you pay the bank", "A kind of coupon"}, Answer: 0},
			{Prompt: "If you save a little every week, your balance...", Options: []string{"Shrinks", "Stays the same", "Grows"}, Answer: 2},
		},
	},
	{
		ID:        2,
		Slug:      "borrowing-and-loans",
		Title:     "Borrowing and Loans",
		BadgeName: "Smart Borrower",
		Content: "A loan is money you borrow and promise to pay back. Most loans charge interest, " +
			"so you pay back more than you borrowed. Paying a loan off sooner means paying less interest.",
		Questions: []models.QuizQuestion{
			{Prompt: "What is a loan?", Options: []string{"A gift", "Money you borrow and pay back", "A savings account"}, Answer: 1},
			{Prompt: "Loan interest makes the total you repay...", Options: []string{"Bigger", "Smaller", "Zero"}, Answer: 0},
			{Prompt: "Paying a loan off early usually means...", Options: []string{"More interest", "Less interest", "No change"}, Answer: 1},
		},
	},
	{
		ID:        3,
		Slug:      "certificates-of-deposit",
		Title:     "Certificates of Deposit",
		BadgeName: "Patient Investor",
		Content: "A certificate of deposit (CD) locks your money away for a set number of days. " +
			"In return it pays a higher interest rate. Taking the money out early costs a penalty.",
		Questions: []models.QuizQuestion{
			{Prompt: "What happens to money in a CD?", Options: []string{"It is locked for a term", "It can be spent any time", "It disappears"}, Answer: 0},
			{Prompt: "Why choose a CD?", Options: []string{"Lower interest", "Higher interest", "No interest"}, Answer: 1},
			{Prompt: "Redeeming a CD early means...", Options: []string{"A bonus", "A penalty", "Nothing happens"}, Answer: 1},
		},
	},
	{
		ID:        4,
		Slug:      "needs-and-wants",
		Title:     "Needs and Wants",
		BadgeName: "Budget Boss",
		Content: "Needs are things you must have, like food and a place to live. Wants are nice to have, like toys and games. " +
			"A budget helps you pay for needs first and plan for wants.",
		Questions: []models.QuizQuestion{
			{Prompt: "Which one is a need?", Options: []string{"A new video game", "Food", "Candy"}, Answer: 1},
			{Prompt: "Which one is a want?", Options: []string{"Water", "A winter coat", "A new toy"}, Answer: 2},
			{Prompt: "A budget helps you...", Options: []string{"Plan your spending", "Spend faster", "Avoid saving"}, Answer: 0},
		},
	},
}

func findModule(id int64) (models.EducationModule, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return models.EducationModule{}, false
}

type EducationService struct {
	db     *sql.DB
	access *AccessService
	logger *zap.Logger
	now    func() time.Time
}

func NewEducationService(db *sql.DB, access *AccessService, logger *zap.Logger) *EducationService {
	return &EducationService{db: db, access: access, logger: logger, now: time.Now}
}

// Seed makes sure every catalog module has a row. Existing enable flags are kept.
func (s *EducationService) Seed(ctx context.Context) error {
	for _, m := range catalog {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO education_modules (id, enabled)
			VALUES ($1, true)
			ON CONFLICT (id) DO NOTHING`, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *EducationService) enabled(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, enabled FROM education_modules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var (
			id int64
			on bool
		)
		if err := rows.Scan(&id, &on); err != nil {
			return nil, err
		}
		out[id] = on
	}
	return out, rows.Err()
}

func (s *EducationService) completed(ctx context.Context, childID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module_id FROM child_badges WHERE child_id = $1`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func isEnabled(flags map[int64]bool, id int64) bool {
	on, ok := flags[id]
	return !ok || on
}

// ListModules returns the catalog. Children only see enabled modules and
// get their completion flag.
func (s *EducationService) ListModules(ctx context.Context, ident *models.Identity) ([]models.EducationModule, error) {
	if ident == nil {
		return nil, forbiddenError("authentication required")
	}
	flags, err := s.enabled(ctx)
	if err != nil {
		return nil, err
	}
	var done map[int64]bool
	if ident.IsChild() {
		if done, err = s.completed(ctx, ident.ChildID); err != nil {
			return nil, err
		}
	}

	out := []models.EducationModule{}
	for _, m := range catalog {
		m.Enabled = isEnabled(flags, m.ID)
		if ident.IsChild() {
			if !m.Enabled {
				continue
			}
			m.Completed = done[m.ID]
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *EducationService) GetModule(ctx context.Context, ident *models.Identity, id int64) (*models.EducationModule, error) {
	m, ok := findModule(id)
	if !ok {
		return nil, notFoundError("module not found")
	}
	flags, err := s.enabled(ctx)
	if err != nil {
		return nil, err
	}
	m.Enabled = isEnabled(flags, id)
	if ident.IsChild() {
		if !m.Enabled {
			return nil, notFoundError("module not found")
		}
		done, err := s.completed(ctx, ident.ChildID)
		if err != nil {
			return nil, err
		}
		m.Completed = done[id]
	}
	return &m, nil
}

// PassMark is the number of correct answers needed out of n questions.
func PassMark(n int) int {
	return max(1, n-1)
}

// SubmitQuiz grades answers and awards the badge on a pass. Passing again
// is allowed but awards nothing new.
func (s *EducationService) SubmitQuiz(ctx context.Context, ident *models.Identity, id int64, answers []int) (*models.QuizResult, error) {
	if err := requireChild(ident); err != nil {
		return nil, err
	}
	m, err := s.GetModule(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	if len(answers) != len(m.Questions) {
		return nil, validationError("expected %d answers, got %d", len(m.Questions), len(answers))
	}

	res := &models.QuizResult{ModuleID: id, Total: len(m.Questions)}
	for i, q := range m.Questions {
		if answers[i] == q.Answer {
			res.Score++
		}
	}
	res.Passed = res.Score >= PassMark(res.Total)
	if !res.Passed {
		return res, nil
	}

	awarded, err := s.award(ctx, ident.ChildID, id, badgeFromQuiz, nil)
	if err != nil {
		return nil, err
	}
	res.Awarded = awarded
	return res, nil
}

func (s *EducationService) award(ctx context.Context, childID, moduleID int64, source string, by *int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO child_badges (child_id, module_id, source, awarded_by, awarded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (child_id, module_id) DO NOTHING`, childID, moduleID, source, by, s.now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		s.logger.Info("badge awarded", zap.Int64("child_id", childID), zap.Int64("module_id", moduleID), zap.String("source", source))
	}
	return n == 1, nil
}

// Award lets a linked parent hand out a badge directly.
func (s *EducationService) Award(ctx context.Context, ident *models.Identity, moduleID, childID int64) (*models.Badge, error) {
	m, ok := findModule(moduleID)
	if !ok {
		return nil, notFoundError("module not found")
	}
	if err := s.access.RequireLinked(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}
	by := ident.UserID
	awarded, err := s.award(ctx, childID, moduleID, badgeFromParent, &by)
	if err != nil {
		return nil, err
	}
	if !awarded {
		return nil, conflictError("badge already awarded")
	}
	return &models.Badge{ModuleID: moduleID, Name: m.BadgeName, Source: badgeFromParent, AwardedBy: &by, AwardedAt: s.now().UTC()}, nil
}

func (s *EducationService) Badges(ctx context.Context, ident *models.Identity, childID int64) ([]models.Badge, error) {
	if err := s.access.CanView(ctx, s.db, ident, childID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, source, awarded_by, awarded_at
		FROM child_badges
		WHERE child_id = $1
		ORDER BY awarded_at, module_id`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Badge{}
	for rows.Next() {
		var b models.Badge
		if err := rows.Scan(&b.ModuleID, &b.Source, &b.AwardedBy, &b.AwardedAt); err != nil {
			return nil, err
		}
		if m, ok := findModule(b.ModuleID); ok {
			b.Name = m.BadgeName
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *EducationService) SetEnabled(ctx context.Context, ident *models.Identity, id int64, enabled bool) (*models.EducationModule, error) {
	if err := requireAdmin(ident); err != nil {
		return nil, err
	}
	m, ok := findModule(id)
	if !ok {
		return nil, notFoundError("module not found")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO education_modules (id, enabled)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET enabled = EXCLUDED.enabled`, id, enabled); err != nil {
		return nil, err
	}
	m.Enabled = enabled
	return &m, nil
}
