package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nageing/nano-oj-backend/internal/common/db"
	"github.com/nageing/nano-oj-backend/internal/judge/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrNotClaimed means the guarded status transition matched no row:
	// another worker already claimed the submission or it is not in the
	// expected state.
	ErrNotClaimed = errors.New("submission not claimed")
)

// SubmissionFilter narrows List queries. Zero fields are ignored.
type SubmissionFilter struct {
	UserID    int64
	ProblemID int64
	ContestID int64
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Submission, error)
	List(ctx context.Context, filter SubmissionFilter, offset, limit int) ([]*model.Submission, error)

	// ClaimForJudging transitions Pending -> Judging. Returns ErrNotClaimed
	// when the submission is not Pending anymore.
	ClaimForJudging(ctx context.Context, id int64) error

	// SaveResult transitions Judging -> Judged with the verdict, score and
	// detail. Returns ErrNotClaimed when the submission is not Judging.
	SaveResult(ctx context.Context, id int64, verdict model.Verdict, score int, detail *model.JudgeDetail) error

	// MarkSystemError moves a submission to SystemError from any
	// non-terminal state.
	MarkSystemError(ctx context.Context, id int64, message string) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "id, user_id, problem_id, contest_id, language, source_code, status, verdict, score, judge_detail, created_at, updated_at"

// Create inserts a submission row with status Pending and returns its id.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) (int64, error) {
	if submission == nil {
		return 0, errors.New("submission is nil")
	}
	if submission.UserID <= 0 {
		return 0, errors.New("userID is required")
	}
	if submission.ProblemID <= 0 {
		return 0, errors.New("problemID is required")
	}
	if submission.Language == "" {
		return 0, errors.New("language is required")
	}
	if submission.SourceCode == "" {
		return 0, errors.New("sourceCode is required")
	}

	query := `
		INSERT INTO submissions
		(user_id, problem_id, contest_id, language, source_code, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.UserID,
		submission.ProblemID,
		submission.ContestID,
		submission.Language,
		submission.SourceCode,
		int(model.StatusPending),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, id int64) (*model.Submission, error) {
	if id <= 0 {
		return nil, errors.New("id is required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ?"
	row := r.db.QueryRow(ctx, query, id)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

// List returns submissions matching the filter, newest first.
func (r *MySQLSubmissionRepository) List(ctx context.Context, filter SubmissionFilter, offset, limit int) ([]*model.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var conds []string
	var args []interface{}
	if filter.UserID > 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ProblemID > 0 {
		conds = append(conds, "problem_id = ?")
		args = append(args, filter.ProblemID)
	}
	if filter.ContestID > 0 {
		conds = append(conds, "contest_id = ?")
		args = append(args, filter.ContestID)
	}

	query := "SELECT " + submissionColumns + " FROM submissions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}

// ClaimForJudging performs the Pending -> Judging compare-and-set.
func (r *MySQLSubmissionRepository) ClaimForJudging(ctx context.Context, id int64) error {
	query := "UPDATE submissions SET status = ? WHERE id = ? AND status = ?"
	result, err := r.db.Exec(ctx, query, int(model.StatusJudging), id, int(model.StatusPending))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// SaveResult persists the terminal judged state, guarded on Judging.
func (r *MySQLSubmissionRepository) SaveResult(ctx context.Context, id int64, verdict model.Verdict, score int, detail *model.JudgeDetail) error {
	detailJSON, err := encodeDetail(detail)
	if err != nil {
		return err
	}
	query := `
		UPDATE submissions
		SET status = ?, verdict = ?, score = ?, judge_detail = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.Exec(ctx, query, int(model.StatusJudged), string(verdict), score, detailJSON, id, int(model.StatusJudging))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// MarkSystemError force-fails a submission that has not reached a
// terminal state yet.
func (r *MySQLSubmissionRepository) MarkSystemError(ctx context.Context, id int64, message string) error {
	detailJSON, err := encodeDetail(&model.JudgeDetail{Message: message})
	if err != nil {
		return err
	}
	query := `
		UPDATE submissions
		SET status = ?, verdict = ?, score = 0, judge_detail = ?
		WHERE id = ? AND status IN (?, ?)
	`
	_, err = r.db.Exec(ctx, query,
		int(model.StatusSystemError), string(model.VerdictSE), detailJSON,
		id, int(model.StatusPending), int(model.StatusJudging))
	return err
}

func encodeDetail(detail *model.JudgeDetail) (string, error) {
	if detail == nil {
		return "", nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("encode judge detail: %w", err)
	}
	return string(data), nil
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	var (
		submission model.Submission
		status     int
		verdict    string
		detailJSON string
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(
		&submission.ID,
		&submission.UserID,
		&submission.ProblemID,
		&submission.ContestID,
		&submission.Language,
		&submission.SourceCode,
		&status,
		&verdict,
		&submission.Score,
		&detailJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	submission.Status = model.SubmissionStatus(status)
	submission.Verdict = model.Verdict(verdict)
	submission.CreatedAt = createdAt
	submission.UpdatedAt = updatedAt
	if detailJSON != "" {
		var detail model.JudgeDetail
		if err := json.Unmarshal([]byte(detailJSON), &detail); err != nil {
			return nil, fmt.Errorf("decode judge detail: %w", err)
		}
		submission.Detail = &detail
	}
	return &submission, nil
}
