package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nageing/nano-oj-backend/internal/common/mq"
	contestrepo "github.com/nageing/nano-oj-backend/internal/contest/repository"
	"github.com/nageing/nano-oj-backend/internal/judge/model"
	"github.com/nageing/nano-oj-backend/internal/judge/repository"
	"github.com/nageing/nano-oj-backend/internal/judge/sandbox"
	"github.com/nageing/nano-oj-backend/pkg/utils/logger"
)

// JudgeService drives one submission from claimed to judged. It consumes
// judge tasks, runs the sandbox, classifies the result and publishes a
// completion event for contest submissions.
type JudgeService struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	contests    contestrepo.ContestRepository
	executor    sandbox.Executor
	producer    mq.Producer
}

// NewJudgeService wires a judge service.
func NewJudgeService(
	submissions repository.SubmissionRepository,
	problems repository.ProblemRepository,
	contests contestrepo.ContestRepository,
	executor sandbox.Executor,
	producer mq.Producer,
) *JudgeService {
	return &JudgeService{
		submissions: submissions,
		problems:    problems,
		contests:    contests,
		executor:    executor,
		producer:    producer,
	}
}

// HandleTask is the judge.task consumer. A nil return acknowledges the
// message; an error return lets the queue redeliver it. Once a
// submission is claimed the handler always drives it to a terminal
// state, so claimed work is never returned to the queue.
func (s *JudgeService) HandleTask(ctx context.Context, msg *mq.Message) error {
	var task model.JudgeTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		logger.Warn(ctx, "dropping malformed judge task", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if task.SubmissionID <= 0 {
		logger.Warn(ctx, "dropping judge task without submission id", zap.String("message_id", msg.ID))
		return nil
	}

	submission, err := s.submissions.GetByID(ctx, task.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "judge task for unknown submission", zap.Int64("submission_id", task.SubmissionID))
			return nil
		}
		return err
	}

	if err := s.submissions.ClaimForJudging(ctx, submission.ID); err != nil {
		if errors.Is(err, repository.ErrNotClaimed) {
			// Another worker has it, or it is already terminal.
			logger.Info(ctx, "submission already claimed", zap.Int64("submission_id", submission.ID))
			return nil
		}
		return err
	}

	if err := s.judge(ctx, submission); err != nil {
		s.failSubmission(ctx, submission, err)
	}
	return nil
}

// judge runs the claimed submission end to end. Any returned error is an
// infrastructure fault, not a contestant fault.
func (s *JudgeService) judge(ctx context.Context, submission *model.Submission) error {
	problem, err := s.problems.GetByID(ctx, submission.ProblemID)
	if err != nil {
		return fmt.Errorf("load problem %d: %w", submission.ProblemID, err)
	}
	if len(problem.Cases) == 0 {
		return fmt.Errorf("problem %d: missing test data", problem.ID)
	}

	maxScore := s.effectiveMaxScore(ctx, submission, problem)

	inputs := make([]string, len(problem.Cases))
	for i, c := range problem.Cases {
		inputs[i] = c.Input
	}
	resp, err := s.executor.Execute(ctx, &sandbox.ExecuteRequest{
		SubmissionID:  submission.ID,
		Language:      submission.Language,
		SourceCode:    submission.SourceCode,
		Inputs:        inputs,
		TimeLimitMs:   problem.Config.TimeLimitMs,
		MemoryLimitKB: problem.Config.MemoryLimitKB,
		OutputLimitKB: problem.Config.OutputLimitKB,
	})
	if err != nil {
		return fmt.Errorf("sandbox execute: %w", err)
	}

	var result classification
	if !resp.Compile.OK {
		result = classification{
			Verdict: model.VerdictCE,
			Detail: &model.JudgeDetail{
				Message:    "compilation failed",
				TotalCases: len(problem.Cases),
				CompileLog: resp.Compile.Log,
			},
		}
	} else {
		result = classify(resp, problem.Cases, problem.Config, maxScore)
	}

	if err := s.submissions.SaveResult(ctx, submission.ID, result.Verdict, result.Score, result.Detail); err != nil {
		if errors.Is(err, repository.ErrNotClaimed) {
			logger.Warn(ctx, "submission no longer judging, result dropped", zap.Int64("submission_id", submission.ID))
			return nil
		}
		return fmt.Errorf("save result: %w", err)
	}

	logger.Info(ctx, "submission judged",
		zap.Int64("submission_id", submission.ID),
		zap.String("verdict", string(result.Verdict)),
		zap.Int("score", result.Score))

	s.publishFinished(ctx, submission, result.Verdict, result.Score)
	return nil
}

// effectiveMaxScore resolves the score ceiling: the contest attachment
// overrides the problem's own max when it sets one.
func (s *JudgeService) effectiveMaxScore(ctx context.Context, submission *model.Submission, problem *model.Problem) int {
	if !submission.InContest() || s.contests == nil {
		return problem.MaxScore
	}
	cp, err := s.contests.GetProblem(ctx, submission.ContestID, submission.ProblemID)
	if err != nil {
		if !errors.Is(err, contestrepo.ErrContestProblemNotFound) {
			logger.Warn(ctx, "contest problem lookup failed, using problem max score",
				zap.Int64("contest_id", submission.ContestID),
				zap.Int64("problem_id", submission.ProblemID),
				zap.Error(err))
		}
		return problem.MaxScore
	}
	if cp.MaxScore > 0 {
		return cp.MaxScore
	}
	return problem.MaxScore
}

// publishFinished emits the completion event for contest submissions.
// The verdict is already durable, so a publish failure is logged and
// swallowed; ranking recovery happens out of band.
func (s *JudgeService) publishFinished(ctx context.Context, submission *model.Submission, verdict model.Verdict, score int) {
	if !submission.InContest() || s.producer == nil {
		return
	}
	event := model.JudgeFinishedEvent{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		ContestID:    submission.ContestID,
		Verdict:      verdict,
		Score:        score,
		SubmittedAt:  submission.CreatedAt,
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Error(ctx, "encode finished event", zap.Int64("submission_id", submission.ID), zap.Error(err))
		return
	}
	if err := s.producer.Publish(ctx, model.TopicJudgeFinished, mq.NewMessage(body)); err != nil {
		logger.Error(ctx, "publish finished event",
			zap.Int64("submission_id", submission.ID),
			zap.Int64("contest_id", submission.ContestID),
			zap.Error(err))
	}
}

// failSubmission forces a claimed submission to SystemError. The task is
// acknowledged either way; a submission must never stay in Judging.
func (s *JudgeService) failSubmission(ctx context.Context, submission *model.Submission, cause error) {
	logger.Error(ctx, "judging failed", zap.Int64("submission_id", submission.ID), zap.Error(cause))
	if err := s.submissions.MarkSystemError(ctx, submission.ID, cause.Error()); err != nil {
		logger.Error(ctx, "mark system error", zap.Int64("submission_id", submission.ID), zap.Error(err))
		return
	}
	s.publishFinished(ctx, submission, model.VerdictSE, 0)
}
