package repository

import (
	"context"
	"errors"

	"github.com/nageing/nano-oj-backend/internal/common/db"
	"github.com/nageing/nano-oj-backend/internal/contest/model"
)

var ErrRankingNotFound = errors.New("ranking entry not found")

// RankingRepository persists per-(contest, user) ranking entries.
type RankingRepository interface {
	Get(ctx context.Context, contestID, userID int64) (*model.RankingEntry, error)
	Upsert(ctx context.Context, entry *model.RankingEntry) error
	ListByContest(ctx context.Context, contestID int64, limit int) ([]*model.RankingEntry, error)
}

// MySQLRankingRepository implements RankingRepository with MySQL.
// The per-problem map lives in a JSON column; the aggregator serializes
// writers per (contest, user), so the upsert needs no row lock.
type MySQLRankingRepository struct {
	db db.Database
}

// NewRankingRepository creates a ranking repository.
func NewRankingRepository(database db.Database) RankingRepository {
	return &MySQLRankingRepository{db: database}
}

const rankingColumns = "id, contest_id, user_id, user_name, user_avatar, solved, penalty, total_score, problems, updated_at"

// Get returns the entry for (contest, user).
func (r *MySQLRankingRepository) Get(ctx context.Context, contestID, userID int64) (*model.RankingEntry, error) {
	if contestID <= 0 || userID <= 0 {
		return nil, errors.New("contestID and userID are required")
	}
	query := "SELECT " + rankingColumns + " FROM contest_rankings WHERE contest_id = ? AND user_id = ?"
	entry, err := scanRankingEntry(r.db.QueryRow(ctx, query, contestID, userID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRankingNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Upsert inserts or replaces the entry for (contest, user).
func (r *MySQLRankingRepository) Upsert(ctx context.Context, entry *model.RankingEntry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	if entry.ContestID <= 0 || entry.UserID <= 0 {
		return errors.New("contestID and userID are required")
	}
	problemsJSON, err := entry.EncodeProblems()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO contest_rankings
		(contest_id, user_id, user_name, user_avatar, solved, penalty, total_score, problems)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		user_name = VALUES(user_name),
		user_avatar = VALUES(user_avatar),
		solved = VALUES(solved),
		penalty = VALUES(penalty),
		total_score = VALUES(total_score),
		problems = VALUES(problems)
	`
	_, err = r.db.Exec(ctx, query,
		entry.ContestID,
		entry.UserID,
		entry.UserName,
		entry.UserAvatar,
		entry.Solved,
		entry.Penalty,
		entry.TotalScore,
		problemsJSON,
	)
	return err
}

// ListByContest returns entries for a contest ordered for display:
// most solved first, then lowest penalty, then highest score.
func (r *MySQLRankingRepository) ListByContest(ctx context.Context, contestID int64, limit int) ([]*model.RankingEntry, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := "SELECT " + rankingColumns + ` FROM contest_rankings
		WHERE contest_id = ?
		ORDER BY solved DESC, penalty ASC, total_score DESC
		LIMIT ?`
	rows, err := r.db.Query(ctx, query, contestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.RankingEntry
	for rows.Next() {
		entry, err := scanRankingEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanRankingEntry(row db.Row) (*model.RankingEntry, error) {
	var (
		entry        model.RankingEntry
		problemsJSON string
	)
	err := row.Scan(
		&entry.ID,
		&entry.ContestID,
		&entry.UserID,
		&entry.UserName,
		&entry.UserAvatar,
		&entry.Solved,
		&entry.Penalty,
		&entry.TotalScore,
		&problemsJSON,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	problems, err := model.DecodeProblems(problemsJSON)
	if err != nil {
		return nil, err
	}
	entry.Problems = problems
	return &entry, nil
}
