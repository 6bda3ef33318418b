package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store persists answers and snippets. The database is the single source of
// truth for their state; the grading pipeline itself owns no persistent data.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type Answer struct {
	ID                int64      `db:"id"`
	ExerciseID        int64      `db:"exercise_id"`
	UserID            int64      `db:"user_id"`
	SourceCode        string     `db:"source_code"`
	IsCorrected       bool       `db:"is_corrected"`
	IsValid           bool       `db:"is_valid"`
	IsUnhelpfull      bool       `db:"is_unhelpfull"`
	CorrectionMessage string     `db:"correction_message"`
	CreatedAt         time.Time  `db:"created_at"`
	CorrectedAt       *time.Time `db:"corrected_at"`
}

type Snippet struct {
	ID         int64      `db:"id"`
	UserID     int64      `db:"user_id"`
	SourceCode string     `db:"source_code"`
	Output     string     `db:"output"`
	CreatedAt  time.Time  `db:"created_at"`
	ExecutedAt *time.Time `db:"executed_at"`
}

func (s *Store) CreateAnswer(ctx context.Context, userID, exerciseID int64, sourceCode string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"INSERT INTO answers (user_id, exercise_id, source_code, created_at) VALUES ($1, $2, $3, now()) RETURNING id",
		userID, exerciseID, sourceCode,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert answer: %w", err)
	}
	return id, nil
}

func (s *Store) AnswerByID(ctx context.Context, id int64) (*Answer, error) {
	var answer Answer
	err := s.db.GetContext(ctx, &answer,
		"SELECT id, exercise_id, user_id, source_code, is_corrected, is_valid, is_unhelpfull, correction_message, created_at, corrected_at FROM answers WHERE id = $1",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select answer %d: %w", id, err)
	}
	return &answer, nil
}

// AnswerCorrected records a verdict. Transitions are monotonic: an answer
// goes uncorrected to corrected and a re-correction may overwrite the
// verdict, but the row never returns to uncorrected. The is_unhelpfull flag
// is review-dashboard metadata only and never affects the verdict.
func (s *Store) AnswerCorrected(ctx context.Context, id int64, valid bool, message string, at time.Time) error {
	unhelpfull := strings.HasPrefix(message, "Traceback")
	_, err := s.db.ExecContext(ctx,
		"UPDATE answers SET is_corrected = true, is_valid = $2, correction_message = $3, is_unhelpfull = $4, corrected_at = $5 WHERE id = $1",
		id, valid, message, unhelpfull, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update answer %d: %w", id, err)
	}
	return nil
}

func (s *Store) CreateSnippet(ctx context.Context, userID int64, sourceCode string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"INSERT INTO snippets (user_id, source_code, created_at) VALUES ($1, $2, now()) RETURNING id",
		userID, sourceCode,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snippet: %w", err)
	}
	return id, nil
}

func (s *Store) SnippetExecuted(ctx context.Context, id int64, output string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE snippets SET output = $2, executed_at = $3 WHERE id = $1",
		id, output, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update snippet %d: %w", id, err)
	}
	return nil
}

// ExerciseScripts returns the instructor's checker and optional pre-check for
// an exercise.
func (s *Store) ExerciseScripts(ctx context.Context, exerciseID int64) (check string, preCheck string, err error) {
	var row struct {
		Check    string `db:"check"`
		PreCheck string `db:"pre_check"`
	}
	err = s.db.GetContext(ctx, &row,
		`SELECT "check", pre_check FROM exercises WHERE id = $1`,
		exerciseID,
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to select exercise %d: %w", exerciseID, err)
	}
	return row.Check, row.PreCheck, nil
}

// RecomputeRank recalculates the user's points from their valid answers and
// returns the user's dense rank over the whole leaderboard.
func (s *Store) RecomputeRank(ctx context.Context, userID int64) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET points = COALESCE((
			SELECT SUM(e.points)
			FROM exercises e
			WHERE EXISTS (
				SELECT 1 FROM answers a
				WHERE a.exercise_id = e.id AND a.user_id = $1 AND a.is_valid
			)
		), 0)
		WHERE id = $1`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute points for user %d: %w", userID, err)
	}

	var rank int64
	err = s.db.GetContext(ctx, &rank, `
		SELECT rank FROM (
			SELECT id, DENSE_RANK() OVER (ORDER BY points DESC) AS rank
			FROM users
		) ranked
		WHERE id = $1`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to select rank for user %d: %w", userID, err)
	}
	return rank, nil
}
