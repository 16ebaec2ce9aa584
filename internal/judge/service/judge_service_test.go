package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nageing/nano-oj-backend/internal/common/db"
	"github.com/nageing/nano-oj-backend/internal/common/mq"
	contestmodel "github.com/nageing/nano-oj-backend/internal/contest/model"
	contestrepo "github.com/nageing/nano-oj-backend/internal/contest/repository"
	"github.com/nageing/nano-oj-backend/internal/judge/model"
	"github.com/nageing/nano-oj-backend/internal/judge/repository"
	"github.com/nageing/nano-oj-backend/internal/judge/sandbox"
)

type memSubmissions struct {
	mu   sync.Mutex
	rows map[int64]*model.Submission
	next int64
}

func newMemSubmissions() *memSubmissions {
	return &memSubmissions{rows: make(map[int64]*model.Submission), next: 1}
}

func (m *memSubmissions) Create(_ context.Context, _ db.Transaction, s *model.Submission) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	clone := *s
	clone.ID = id
	clone.Status = model.StatusPending
	clone.CreatedAt = time.Now()
	m.rows[id] = &clone
	return id, nil
}

func (m *memSubmissions) GetByID(_ context.Context, id int64) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *memSubmissions) List(_ context.Context, _ repository.SubmissionFilter, _, _ int) ([]*model.Submission, error) {
	return nil, nil
}

func (m *memSubmissions) ClaimForJudging(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != model.StatusPending {
		return repository.ErrNotClaimed
	}
	s.Status = model.StatusJudging
	return nil
}

func (m *memSubmissions) SaveResult(_ context.Context, id int64, verdict model.Verdict, score int, detail *model.JudgeDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != model.StatusJudging {
		return repository.ErrNotClaimed
	}
	s.Status = model.StatusJudged
	s.Verdict = verdict
	s.Score = score
	s.Detail = detail
	return nil
}

func (m *memSubmissions) MarkSystemError(_ context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil
	}
	if s.Status == model.StatusPending || s.Status == model.StatusJudging {
		s.Status = model.StatusSystemError
		s.Verdict = model.VerdictSE
		s.Score = 0
		s.Detail = &model.JudgeDetail{Message: message}
	}
	return nil
}

type memProblems struct {
	rows map[int64]*model.Problem
}

func (m *memProblems) GetByID(_ context.Context, id int64) (*model.Problem, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	return p, nil
}

func (m *memProblems) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := m.rows[id]
	return ok, nil
}

type memContests struct {
	contests map[int64]*contestmodel.Contest
	problems map[[2]int64]*contestmodel.ContestProblem
}

func (m *memContests) GetByID(_ context.Context, id int64) (*contestmodel.Contest, error) {
	c, ok := m.contests[id]
	if !ok {
		return nil, contestrepo.ErrContestNotFound
	}
	return c, nil
}

func (m *memContests) GetProblem(_ context.Context, contestID, problemID int64) (*contestmodel.ContestProblem, error) {
	cp, ok := m.problems[[2]int64{contestID, problemID}]
	if !ok {
		return nil, contestrepo.ErrContestProblemNotFound
	}
	return cp, nil
}

type memProducer struct {
	mu       sync.Mutex
	messages map[string][]*mq.Message
	err      error
}

func newMemProducer() *memProducer {
	return &memProducer{messages: make(map[string][]*mq.Message)}
}

func (p *memProducer) Publish(_ context.Context, topic string, msg *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages[topic] = append(p.messages[topic], msg)
	return nil
}

func (p *memProducer) published(topic string) []*mq.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[topic]
}

func echoProblem(id int64) *model.Problem {
	return &model.Problem{
		ID:       id,
		Title:    "echo",
		MaxScore: 100,
		Cases: []model.JudgeCase{
			{Input: "1 2", Output: "1 2"},
			{Input: "3", Output: "3"},
		},
		Config: model.JudgeConfig{TimeLimitMs: 1000, MemoryLimitKB: 256 * 1024, OutputLimitKB: 1024},
	}
}

func taskMessage(t *testing.T, submissionID int64) *mq.Message {
	t.Helper()
	body, err := json.Marshal(model.JudgeTask{SubmissionID: submissionID})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return mq.NewMessage(body)
}

func newTestService(subs *memSubmissions, problems *memProblems, contests *memContests, exec sandbox.Executor, producer *memProducer) *JudgeService {
	return NewJudgeService(subs, problems, contests, exec, producer)
}

func TestHandleTaskAccepted(t *testing.T) {
	subs := newMemSubmissions()
	problems := &memProblems{rows: map[int64]*model.Problem{7: echoProblem(7)}}
	producer := newMemProducer()
	svc := newTestService(subs, problems, &memContests{}, &sandbox.Fake{}, producer)

	id, _ := subs.Create(context.Background(), nil, &model.Submission{UserID: 1, ProblemID: 7, Language: "go", SourceCode: "x"})
	if err := svc.HandleTask(context.Background(), taskMessage(t, id)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	s, _ := subs.GetByID(context.Background(), id)
	if s.Status != model.StatusJudged {
		t.Fatalf("Status = %s, want Judged", s.Status)
	}
	if s.Verdict != model.VerdictAC || s.Score != 100 {
		t.Fatalf("verdict=%s score=%d", s.Verdict, s.Score)
	}
	if got := producer.published(model.TopicJudgeFinished); len(got) != 0 {
		t.Fatalf("non-contest submission must not publish finished events, got %d", len(got))
	}
}

func TestHandleTaskContestPublishesFinished(t *testing.T) {
	subs := newMemSubmissions()
	problems := &memProblems{rows: map[int64]*model.Problem{7: echoProblem(7)}}
	contests := &memContests{
		problems: map[[2]int64]*contestmodel.ContestProblem{
			{5, 7}: {ContestID: 5, ProblemID: 7, DisplayID: "A", MaxScore: 200},
		},
	}
	producer := newMemProducer()
	svc := newTestService(subs, problems, contests, &sandbox.Fake{}, producer)

	id, _ := subs.Create(context.Background(), nil, &model.Submission{UserID: 1, ProblemID: 7, ContestID: 5, Language: "go", SourceCode: "x"})
	if err := svc.HandleTask(context.Background(), taskMessage(t, id)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	msgs := producer.published(model.TopicJudgeFinished)
	if len(msgs) != 1 {
		t.Fatalf("published %d finished events, want 1", len(msgs))
	}
	var event model.JudgeFinishedEvent
	if err := json.Unmarshal(msgs[0].Body, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.SubmissionID != id || event.ContestID != 5 || event.Verdict != model.VerdictAC {
		t.Fatalf("event = %+v", event)
	}
	// Accepted pays the contest override, not the problem default.
	if event.Score != 200 {
		t.Fatalf("Score = %d, want 200", event.Score)
	}
}

func TestHandleTaskCompileError(t *testing.T) {
	subs := newMemSubmissions()
	problems := &memProblems{rows: map[int64]*model.Problem{7: echoProblem(7)}}
	svc := newTestService(subs, problems, &memContests{}, &sandbox.Fake{CompileLog: "syntax error"}, newMemProducer())

	id, _ := subs.Create(context.Background(), nil, &model.Submission{UserID: 1, ProblemID: 7, Language: "go", SourceCode: "x"})
	if err := svc.HandleTask(context.Background(), taskMessage(t, id)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	s, _ := subs.GetByID(context.Background(), id)
	if s.Verdict != model.VerdictCE || s.Score != 0 {
		t.Fatalf("verdict=%s score=%d", s.Verdict, s.Score)
	}
	if s.Detail == nil || s.Detail.CompileLog != "syntax error" {
		t.Fatalf("detail = %+v", s.Detail)
	}
}

func TestHandleTaskSandboxFailureForcesSystemError(t *testing.T) {
	subs := newMemSubmissions()
	problems := &memProblems{rows: map[int64]*model.Problem{7: echoProblem(7)}}
	svc := newTestService(subs, problems, &memContests{}, &sandbox.Fake{Err: errors.New("docker daemon unreachable")}, newMemProducer())

	id, _ := subs.Create(context.Background(), nil, &model.Submission{UserID: 1, ProblemID: 7, Language: "go", SourceCode: "x"})
	if err := svc.HandleTask(context.Background(), taskMessage(t, id)); err != nil {
		t.Fatalf("sandbox failure must still acknowledge, got %v", err)
	}

	s, _ := subs.GetByID(context.Background(), id)
	if s.Status != model.StatusSystemError || s.Verdict != model.VerdictSE {
		t.Fatalf("status=%s verdict=%s", s.Status, s.Verdict)
	}
}

func TestHandleTaskMissingTestData(t *testing.T) {
	subs := newMemSubmissions()
	problem := echoProblem(7)
	problem.Cases = nil
	problems := &memProblems{rows: map[int64]*model.Problem{7: problem}}
	svc := newTestService(subs, problems, &memContests{}, &sandbox.Fake{}, newMemProducer())

	id, _ := subs.Create(context.Background(), nil, &model.Submission{UserID: 1, ProblemID: 7, Language: "go", SourceCode: "x"})
	if err := svc.HandleTask(context.Background(), taskMessage(t, id)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	s, _ := subs.GetByID(context.Background(), id)
	if s.Status != model.StatusSystemError {
		t.Fatalf("Status = %s, want SystemError", s.Status)
	}
}

func TestHandleTaskUnknownSubmissionAcked(t *testing.T) {
	svc := newTestService(newMemSubmissions(), &memProblems{}, &memContests{}, &sandbox.Fake{}, newMemProducer())
	if err := svc.HandleTask(context.Background(), taskMessage(t, 999)); err != nil {
		t.Fatalf("unknown submission must be acknowledged, got %v", err)
	}
}

func TestHandleTaskRedeliveryAfterJudgedIsNoop(t *testing.T) {
	subs := newMemSubmissions()
	problems := &memProblems{rows: map[int64]*model.Problem{7: echoProblem(7)}}
	producer := newMemProducer()
	svc := newTestService(subs, problems, &memContests{}, &sandbox.Fake{}, producer)

	id, _ := subs.Create(context.Background(), nil, &model.Submission{UserID: 1, ProblemID: 7, Language: "go", SourceCode: "x"})
	if err := svc.HandleTask(context.Background(), taskMessage(t, id)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleTask(context.Background(), taskMessage(t, id)); err != nil {
		t.Fatalf("redelivery must be acknowledged, got %v", err)
	}

	s, _ := subs.GetByID(context.Background(), id)
	if s.Status != model.StatusJudged {
		t.Fatalf("Status = %s, want Judged", s.Status)
	}
}

func TestHandleTaskMalformedBodyAcked(t *testing.T) {
	svc := newTestService(newMemSubmissions(), &memProblems{}, &memContests{}, &sandbox.Fake{}, newMemProducer())
	if err := svc.HandleTask(context.Background(), mq.NewMessage([]byte("not json"))); err != nil {
		t.Fatalf("malformed body must be acknowledged, got %v", err)
	}
}
