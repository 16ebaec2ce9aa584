// Package service implements submission intake: validate, persist as
// Pending, hand off to the judge queue.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nageing/nano-oj-backend/internal/common/mq"
	contestmodel "github.com/nageing/nano-oj-backend/internal/contest/model"
	contestrepo "github.com/nageing/nano-oj-backend/internal/contest/repository"
	"github.com/nageing/nano-oj-backend/internal/judge/model"
	"github.com/nageing/nano-oj-backend/internal/judge/repository"
	"github.com/nageing/nano-oj-backend/internal/judge/sandbox"
	pkgerrors "github.com/nageing/nano-oj-backend/pkg/errors"
	"github.com/nageing/nano-oj-backend/pkg/utils/logger"
)

// defaultMaxCodeBytes bounds submitted source size.
const defaultMaxCodeBytes = 64 * 1024

// CreateRequest carries one submission from the API layer.
type CreateRequest struct {
	UserID     int64  `json:"-"`
	ProblemID  int64  `json:"problem_id" binding:"required"`
	ContestID  int64  `json:"contest_id"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmitService validates and persists submissions and enqueues judge
// tasks. Reads apply OI-window masking before anything leaves the
// service.
type SubmitService struct {
	submissions  repository.SubmissionRepository
	problems     repository.ProblemRepository
	contests     contestrepo.ContestRepository
	producer     mq.Producer
	languages    *sandbox.Registry
	maxCodeBytes int

	now func() time.Time
}

// NewSubmitService wires a submit service.
func NewSubmitService(
	submissions repository.SubmissionRepository,
	problems repository.ProblemRepository,
	contests contestrepo.ContestRepository,
	producer mq.Producer,
	languages *sandbox.Registry,
) *SubmitService {
	if languages == nil {
		languages = sandbox.DefaultRegistry()
	}
	return &SubmitService{
		submissions:  submissions,
		problems:     problems,
		contests:     contests,
		producer:     producer,
		languages:    languages,
		maxCodeBytes: defaultMaxCodeBytes,
		now:          time.Now,
	}
}

// Create validates the request, stores the submission as Pending and
// publishes a judge task. The row is durable before the publish, so a
// queue failure surfaces as SystemError rather than a lost submission.
func (s *SubmitService) Create(ctx context.Context, req *CreateRequest) (int64, error) {
	if err := s.validate(ctx, req); err != nil {
		return 0, err
	}

	submission := &model.Submission{
		UserID:     req.UserID,
		ProblemID:  req.ProblemID,
		ContestID:  req.ContestID,
		Language:   req.Language,
		SourceCode: req.SourceCode,
	}
	id, err := s.submissions.Create(ctx, nil, submission)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, pkgerrors.SubmissionCreateFailed, "create submission")
	}

	body, err := json.Marshal(model.JudgeTask{SubmissionID: id})
	if err != nil {
		return 0, pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "encode judge task")
	}
	if err := s.producer.Publish(ctx, model.TopicJudgeTask, mq.NewMessage(body)); err != nil {
		logger.Error(ctx, "publish judge task", zap.Int64("submission_id", id), zap.Error(err))
		if markErr := s.submissions.MarkSystemError(ctx, id, "judge task publish failed"); markErr != nil {
			logger.Error(ctx, "mark system error after publish failure",
				zap.Int64("submission_id", id), zap.Error(markErr))
		}
		return 0, pkgerrors.Wrapf(err, pkgerrors.JudgeQueueFull, "judge queue unavailable")
	}

	logger.Info(ctx, "submission accepted",
		zap.Int64("submission_id", id),
		zap.Int64("problem_id", req.ProblemID),
		zap.String("language", req.Language))
	return id, nil
}

// Get returns one submission with OI masking applied.
func (s *SubmitService) Get(ctx context.Context, id int64) (*model.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.SubmissionNotFound, "submission not found")
		}
		return nil, err
	}
	s.mask(ctx, []*model.Submission{submission})
	return submission, nil
}

// List pages over submissions, newest first, with OI masking applied.
func (s *SubmitService) List(ctx context.Context, filter repository.SubmissionFilter, page, pageSize int) ([]*model.Submission, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	submissions, err := s.submissions.List(ctx, filter, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	s.mask(ctx, submissions)
	return submissions, nil
}

func (s *SubmitService) validate(ctx context.Context, req *CreateRequest) error {
	if req == nil || req.UserID <= 0 || req.ProblemID <= 0 {
		return pkgerrors.Newf(pkgerrors.InvalidParams, "userID and problemID are required")
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return pkgerrors.Newf(pkgerrors.RequiredFieldEmpty, "source code is empty")
	}
	if len(req.SourceCode) > s.maxCodeBytes {
		return pkgerrors.Newf(pkgerrors.CodeTooLarge, "source code exceeds %d bytes", s.maxCodeBytes)
	}
	if _, ok := s.languages.Lookup(req.Language); !ok {
		return pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not supported", req.Language)
	}

	exists, err := s.problems.Exists(ctx, req.ProblemID)
	if err != nil {
		return err
	}
	if !exists {
		return pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem not found")
	}

	if req.ContestID > 0 {
		if err := s.validateContest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) validateContest(ctx context.Context, req *CreateRequest) error {
	contest, err := s.contests.GetByID(ctx, req.ContestID)
	if err != nil {
		if errors.Is(err, contestrepo.ErrContestNotFound) {
			return pkgerrors.Newf(pkgerrors.ContestNotFound, "contest not found")
		}
		return err
	}
	now := s.now()
	if now.Before(contest.StartTime) {
		return pkgerrors.Newf(pkgerrors.ContestNotStarted, "contest has not started")
	}
	if !now.Before(contest.EndTime) {
		return pkgerrors.Newf(pkgerrors.ContestEnded, "contest has ended")
	}
	if _, err := s.contests.GetProblem(ctx, req.ContestID, req.ProblemID); err != nil {
		if errors.Is(err, contestrepo.ErrContestProblemNotFound) {
			return pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem is not part of this contest")
		}
		return err
	}
	return nil
}

// mask hides verdict, score and detail for submissions inside an active
// OI window. The true result stays stored; only the view is withheld.
func (s *SubmitService) mask(ctx context.Context, submissions []*model.Submission) {
	masked := make(map[int64]bool)
	now := s.now()
	for _, submission := range submissions {
		if !submission.InContest() {
			continue
		}
		hide, seen := masked[submission.ContestID]
		if !seen {
			hide = s.oiWindowActive(ctx, submission.ContestID, now)
			masked[submission.ContestID] = hide
		}
		if !hide {
			continue
		}
		submission.Verdict = ""
		submission.Score = 0
		submission.Detail = nil
	}
}

func (s *SubmitService) oiWindowActive(ctx context.Context, contestID int64, now time.Time) bool {
	contest, err := s.contests.GetByID(ctx, contestID)
	if err != nil {
		logger.Warn(ctx, "contest lookup failed, masking submission view",
			zap.Int64("contest_id", contestID), zap.Error(err))
		// Fail closed: an unknown window stays masked.
		return true
	}
	return contest.Rule == contestmodel.RuleOI && contest.Running(now)
}
