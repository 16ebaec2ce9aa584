package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nageing/nano-oj-backend/internal/common/cache"
	"github.com/nageing/nano-oj-backend/internal/common/db"
	"github.com/nageing/nano-oj-backend/internal/judge/model"
)

const (
	defaultProblemCacheTTL      = 30 * time.Minute
	defaultProblemCacheEmptyTTL = 5 * time.Minute
	problemCacheKeyPrefix       = "problem:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository loads judge-side problem data.
type ProblemRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Problem, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// MySQLProblemRepository implements ProblemRepository with MySQL and a
// cache-aside layer. Test data rarely changes, so cached snapshots keep
// the judge loop off the database.
type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewProblemRepository creates a problem repository with default TTLs.
func NewProblemRepository(database db.Database, cacheClient cache.Cache) ProblemRepository {
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultProblemCacheTTL,
		emptyTTL: defaultProblemCacheEmptyTTL,
	}
}

// GetByID returns the problem with decoded test cases and limits.
func (r *MySQLProblemRepository) GetByID(ctx context.Context, id int64) (*model.Problem, error) {
	if id <= 0 {
		return nil, errors.New("id is required")
	}

	fetch := func(ctx context.Context) (*model.Problem, error) {
		problem, err := r.fetchByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return problem, nil
	}

	var problem *model.Problem
	var err error
	if r.cache != nil {
		problem, err = cache.GetWithCached(ctx, r.cache, problemCacheKey(id), r.ttl, r.emptyTTL,
			func(p *model.Problem) bool { return p == nil },
			func(p *model.Problem) string {
				data, _ := json.Marshal(p)
				return string(data)
			},
			func(data string) (*model.Problem, error) {
				var p model.Problem
				if err := json.Unmarshal([]byte(data), &p); err != nil {
					return nil, err
				}
				return &p, nil
			},
			fetch,
		)
	} else {
		problem, err = fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

// Exists reports whether a problem row exists.
func (r *MySQLProblemRepository) Exists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		if errors.Is(err, ErrProblemNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLProblemRepository) fetchByID(ctx context.Context, id int64) (*model.Problem, error) {
	query := "SELECT id, title, max_score, judge_case, judge_config FROM problems WHERE id = ?"
	row := r.db.QueryRow(ctx, query, id)

	var (
		problem    model.Problem
		caseJSON   string
		configJSON string
	)
	if err := row.Scan(&problem.ID, &problem.Title, &problem.MaxScore, &caseJSON, &configJSON); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}

	cases, err := model.DecodeJudgeCases(caseJSON)
	if err != nil {
		return nil, fmt.Errorf("problem %d: %w", id, err)
	}
	config, err := model.DecodeJudgeConfig(configJSON)
	if err != nil {
		return nil, fmt.Errorf("problem %d: %w", id, err)
	}
	problem.Cases = cases
	problem.Config = config
	if problem.MaxScore <= 0 {
		problem.MaxScore = model.DefaultMaxScore
	}
	return &problem, nil
}

func problemCacheKey(id int64) string {
	return fmt.Sprintf("%s%d", problemCacheKeyPrefix, id)
}
