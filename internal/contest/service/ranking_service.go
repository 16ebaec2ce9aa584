package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nageing/nano-oj-backend/internal/common/cache"
	"github.com/nageing/nano-oj-backend/internal/common/mq"
	"github.com/nageing/nano-oj-backend/internal/contest/model"
	"github.com/nageing/nano-oj-backend/internal/contest/repository"
	"github.com/nageing/nano-oj-backend/internal/contest/scoring"
	judgemodel "github.com/nageing/nano-oj-backend/internal/judge/model"
	pkgerrors "github.com/nageing/nano-oj-backend/pkg/errors"
	"github.com/nageing/nano-oj-backend/pkg/utils/logger"
)

const (
	// defaultMaxScore applies when neither the contest attachment nor the
	// problem declares one.
	defaultMaxScore = 100

	rankingLockTTL      = 10 * time.Second
	rankingLockAttempts = 5
	rankingLockBackoff  = 100 * time.Millisecond

	boardKeyPrefix = "ranking:board:"
	lockKeyPrefix  = "ranking:lock:"
)

// ErrLockBusy is returned when the per-(contest, user) lock could not be
// acquired; the caller should let the message redeliver.
var ErrLockBusy = errors.New("ranking entry locked by another worker")

// RankingService folds judge completion events into contest standings.
// Updates to one (contest, user) entry are serialized through a redis
// lock, so the read-modify-write upsert never races itself.
type RankingService struct {
	contests repository.ContestRepository
	rankings repository.RankingRepository
	users    repository.UserReader
	cache    cache.Cache

	now func() time.Time
}

// NewRankingService wires a ranking service. The user reader and cache
// may be nil; denormalized names and the board mirror degrade gracefully.
func NewRankingService(
	contests repository.ContestRepository,
	rankings repository.RankingRepository,
	users repository.UserReader,
	cacheClient cache.Cache,
) *RankingService {
	return &RankingService{
		contests: contests,
		rankings: rankings,
		users:    users,
		cache:    cacheClient,
		now:      time.Now,
	}
}

// HandleFinished is the judge.finished consumer. A nil return
// acknowledges; an error return lets the queue redeliver, which is safe
// because folding is idempotent per submission id.
func (s *RankingService) HandleFinished(ctx context.Context, msg *mq.Message) error {
	var event judgemodel.JudgeFinishedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logger.Warn(ctx, "dropping malformed finished event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if event.ContestID <= 0 || event.SubmissionID <= 0 || event.UserID <= 0 {
		return nil
	}
	if event.Verdict == judgemodel.VerdictSE {
		// Infrastructure faults are not the contestant's attempts.
		return nil
	}

	contest, err := s.contests.GetByID(ctx, event.ContestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			logger.Warn(ctx, "finished event for unknown contest", zap.Int64("contest_id", event.ContestID))
			return nil
		}
		return err
	}

	unlock, err := s.lockEntry(ctx, event.ContestID, event.UserID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.fold(ctx, contest, event)
}

// fold performs the locked read-modify-write for one event.
func (s *RankingService) fold(ctx context.Context, contest *model.Contest, event judgemodel.JudgeFinishedEvent) error {
	entry, err := s.rankings.Get(ctx, event.ContestID, event.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrRankingNotFound) {
			return err
		}
		entry = model.NewRankingEntry(event.ContestID, event.UserID)
		s.fillUserInfo(ctx, entry)
	}

	if pr, ok := entry.Problems[event.ProblemID]; ok && pr.LastSubmissionID == event.SubmissionID {
		logger.Info(ctx, "finished event already folded",
			zap.Int64("submission_id", event.SubmissionID),
			zap.Int64("contest_id", event.ContestID))
		return nil
	}

	changed := scoring.Apply(contest.Rule, entry, scoring.Submission{
		ID:          event.SubmissionID,
		ProblemID:   event.ProblemID,
		Accepted:    event.Verdict == judgemodel.VerdictAC,
		Score:       event.Score,
		SubmittedAt: event.SubmittedAt,
	}, s.maxScore(ctx, event.ContestID, event.ProblemID), contest.StartTime)
	if !changed {
		return nil
	}

	if err := s.rankings.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert ranking entry: %w", err)
	}
	s.mirrorBoard(ctx, contest, entry)

	logger.Info(ctx, "ranking entry updated",
		zap.Int64("contest_id", entry.ContestID),
		zap.Int64("user_id", entry.UserID),
		zap.Int("solved", entry.Solved),
		zap.Int("total_score", entry.TotalScore))
	return nil
}

// Leaderboard returns the top entries for a contest. The redis mirror
// supplies the order when available; MySQL ordering is the fallback.
// While an OI contest is running the board stays hidden.
func (s *RankingService) Leaderboard(ctx context.Context, contestID int64, limit int) ([]*model.RankingEntry, error) {
	contest, err := s.contests.GetByID(ctx, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.ContestNotFound, "contest not found")
		}
		return nil, err
	}
	if contest.Rule == model.RuleOI && contest.Running(s.now()) {
		return nil, pkgerrors.Newf(pkgerrors.RankingNotAvailable, "standings are hidden until the contest ends")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	if entries, ok := s.boardFromCache(ctx, contestID, limit); ok {
		return entries, nil
	}
	return s.rankings.ListByContest(ctx, contestID, limit)
}

// boardFromCache reads the ordered board out of the redis mirror.
func (s *RankingService) boardFromCache(ctx context.Context, contestID int64, limit int) ([]*model.RankingEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	members, err := s.cache.ZRevRangeWithScores(ctx, boardKey(contestID), 0, int64(limit-1))
	if err != nil || len(members) == 0 {
		return nil, false
	}

	entries := make([]*model.RankingEntry, 0, len(members))
	for _, m := range members {
		userID, err := strconv.ParseInt(m.Member, 10, 64)
		if err != nil {
			return nil, false
		}
		entry, err := s.rankings.Get(ctx, contestID, userID)
		if err != nil {
			// Mirror and store disagree; trust the store.
			return nil, false
		}
		entries = append(entries, entry)
	}
	return entries, true
}

// lockEntry serializes writers for one (contest, user) key.
func (s *RankingService) lockEntry(ctx context.Context, contestID, userID int64) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("%s%d:%d", lockKeyPrefix, contestID, userID)
	for attempt := 0; attempt < rankingLockAttempts; attempt++ {
		ok, err := s.cache.TryLock(ctx, key, rankingLockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := s.cache.Unlock(context.WithoutCancel(ctx), key); err != nil {
					logger.Warn(ctx, "unlock ranking entry", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(rankingLockBackoff << attempt):
		}
	}
	return nil, fmt.Errorf("%w: contest %d user %d", ErrLockBusy, contestID, userID)
}

// maxScore resolves the score ceiling for (contest, problem).
func (s *RankingService) maxScore(ctx context.Context, contestID, problemID int64) int {
	cp, err := s.contests.GetProblem(ctx, contestID, problemID)
	if err != nil {
		if !errors.Is(err, repository.ErrContestProblemNotFound) {
			logger.Warn(ctx, "contest problem lookup failed, using default max score",
				zap.Int64("contest_id", contestID),
				zap.Int64("problem_id", problemID),
				zap.Error(err))
		}
		return defaultMaxScore
	}
	if cp.MaxScore > 0 {
		return cp.MaxScore
	}
	return defaultMaxScore
}

// fillUserInfo denormalizes the display name into a fresh entry.
func (s *RankingService) fillUserInfo(ctx context.Context, entry *model.RankingEntry) {
	if s.users == nil {
		return
	}
	profile, err := s.users.GetProfile(ctx, entry.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			logger.Warn(ctx, "user profile lookup failed", zap.Int64("user_id", entry.UserID), zap.Error(err))
		}
		return
	}
	entry.UserName = profile.Name
	entry.UserAvatar = profile.Avatar
}

// mirrorBoard pushes the entry's board score into the redis sorted set.
// The store already holds the truth, so mirror failures only log.
func (s *RankingService) mirrorBoard(ctx context.Context, contest *model.Contest, entry *model.RankingEntry) {
	if s.cache == nil {
		return
	}
	err := s.cache.ZAdd(ctx, boardKey(contest.ID), cache.ZMember{
		Member: strconv.FormatInt(entry.UserID, 10),
		Score:  scoring.BoardScore(contest.Rule, entry),
	})
	if err != nil {
		logger.Warn(ctx, "mirror ranking board", zap.Int64("contest_id", contest.ID), zap.Error(err))
	}
}

func boardKey(contestID int64) string {
	return fmt.Sprintf("%s%d", boardKeyPrefix, contestID)
}
