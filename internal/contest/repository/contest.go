package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nageing/nano-oj-backend/internal/common/cache"
	"github.com/nageing/nano-oj-backend/internal/common/db"
	"github.com/nageing/nano-oj-backend/internal/contest/model"
)

const (
	defaultContestCacheTTL      = 10 * time.Minute
	defaultContestCacheEmptyTTL = time.Minute
	contestCacheKeyPrefix       = "contest:"
)

var (
	ErrContestNotFound        = errors.New("contest not found")
	ErrContestProblemNotFound = errors.New("contest problem not found")
)

// ContestRepository loads contest metadata and problem attachments.
type ContestRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Contest, error)
	GetProblem(ctx context.Context, contestID, problemID int64) (*model.ContestProblem, error)
}

// MySQLContestRepository implements ContestRepository with MySQL and a
// cache-aside layer for the contest row.
type MySQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewContestRepository creates a contest repository with default TTLs.
func NewContestRepository(database db.Database, cacheClient cache.Cache) ContestRepository {
	return &MySQLContestRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultContestCacheTTL,
		emptyTTL: defaultContestCacheEmptyTTL,
	}
}

// GetByID returns the contest row.
func (r *MySQLContestRepository) GetByID(ctx context.Context, id int64) (*model.Contest, error) {
	if id <= 0 {
		return nil, errors.New("id is required")
	}

	fetch := func(ctx context.Context) (*model.Contest, error) {
		contest, err := r.fetchByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrContestNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return contest, nil
	}

	var contest *model.Contest
	var err error
	if r.cache != nil {
		contest, err = cache.GetWithCached(ctx, r.cache, contestCacheKey(id), r.ttl, r.emptyTTL,
			func(c *model.Contest) bool { return c == nil },
			func(c *model.Contest) string {
				data, _ := json.Marshal(c)
				return string(data)
			},
			func(data string) (*model.Contest, error) {
				var c model.Contest
				if err := json.Unmarshal([]byte(data), &c); err != nil {
					return nil, err
				}
				return &c, nil
			},
			fetch,
		)
	} else {
		contest, err = fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, ErrContestNotFound
	}
	return contest, nil
}

// GetProblem returns the attachment row for (contest, problem).
func (r *MySQLContestRepository) GetProblem(ctx context.Context, contestID, problemID int64) (*model.ContestProblem, error) {
	if contestID <= 0 || problemID <= 0 {
		return nil, errors.New("contestID and problemID are required")
	}
	query := `
		SELECT contest_id, problem_id, display_id, max_score
		FROM contest_problems
		WHERE contest_id = ? AND problem_id = ?
	`
	row := r.db.QueryRow(ctx, query, contestID, problemID)

	var cp model.ContestProblem
	if err := row.Scan(&cp.ContestID, &cp.ProblemID, &cp.DisplayID, &cp.MaxScore); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestProblemNotFound
		}
		return nil, err
	}
	return &cp, nil
}

func (r *MySQLContestRepository) fetchByID(ctx context.Context, id int64) (*model.Contest, error) {
	query := "SELECT id, title, rule, start_time, end_time FROM contests WHERE id = ?"
	row := r.db.QueryRow(ctx, query, id)

	var (
		contest model.Contest
		rule    int
	)
	if err := row.Scan(&contest.ID, &contest.Title, &rule, &contest.StartTime, &contest.EndTime); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	contest.Rule = model.Rule(rule)
	return &contest, nil
}

func contestCacheKey(id int64) string {
	return fmt.Sprintf("%s%d", contestCacheKeyPrefix, id)
}
