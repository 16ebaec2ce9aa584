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
	pkgerrors "github.com/nageing/nano-oj-backend/pkg/errors"
)

var contestStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

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

func (m *memSubmissions) List(_ context.Context, filter repository.SubmissionFilter, offset, limit int) ([]*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Submission
	for _, s := range m.rows {
		if filter.UserID > 0 && s.UserID != filter.UserID {
			continue
		}
		if filter.ContestID > 0 && s.ContestID != filter.ContestID {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memSubmissions) ClaimForJudging(_ context.Context, id int64) error { return nil }

func (m *memSubmissions) SaveResult(_ context.Context, id int64, verdict model.Verdict, score int, detail *model.JudgeDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		s.Status = model.StatusJudged
		s.Verdict = verdict
		s.Score = score
		s.Detail = detail
	}
	return nil
}

func (m *memSubmissions) MarkSystemError(_ context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		s.Status = model.StatusSystemError
		s.Verdict = model.VerdictSE
		s.Detail = &model.JudgeDetail{Message: message}
	}
	return nil
}

type memProblems struct {
	ids map[int64]bool
}

func (m *memProblems) GetByID(_ context.Context, id int64) (*model.Problem, error) {
	if !m.ids[id] {
		return nil, repository.ErrProblemNotFound
	}
	return &model.Problem{ID: id, MaxScore: 100}, nil
}

func (m *memProblems) Exists(_ context.Context, id int64) (bool, error) {
	return m.ids[id], nil
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
	messages []*mq.Message
	err      error
}

func (p *memProducer) Publish(_ context.Context, topic string, msg *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func newFixture() (*SubmitService, *memSubmissions, *memProducer) {
	subs := newMemSubmissions()
	producer := &memProducer{}
	contests := &memContests{
		contests: map[int64]*contestmodel.Contest{
			5: {
				ID: 5, Rule: contestmodel.RuleOI,
				StartTime: contestStart, EndTime: contestStart.Add(5 * time.Hour),
			},
		},
		problems: map[[2]int64]*contestmodel.ContestProblem{
			{5, 7}: {ContestID: 5, ProblemID: 7, DisplayID: "A"},
		},
	}
	svc := NewSubmitService(subs, &memProblems{ids: map[int64]bool{7: true}}, contests, producer, nil)
	svc.now = func() time.Time { return contestStart.Add(time.Hour) }
	return svc, subs, producer
}

func validRequest() *CreateRequest {
	return &CreateRequest{
		UserID:     1,
		ProblemID:  7,
		Language:   "go",
		SourceCode: "package main\nfunc main() {}\n",
	}
}

func TestCreatePublishesJudgeTask(t *testing.T) {
	svc, subs, producer := newFixture()

	id, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d", id)
	}

	s, err := subs.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("submission not stored: %v", err)
	}
	if s.Status != model.StatusPending {
		t.Fatalf("Status = %s, want Pending", s.Status)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(producer.messages))
	}
	var task model.JudgeTask
	if err := json.Unmarshal(producer.messages[0].Body, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.SubmissionID != id {
		t.Fatalf("task.SubmissionID = %d, want %d", task.SubmissionID, id)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newFixture()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		code   pkgerrors.ErrorCode
	}{
		{"empty source", func(r *CreateRequest) { r.SourceCode = "  \n" }, pkgerrors.RequiredFieldEmpty},
		{"unknown language", func(r *CreateRequest) { r.Language = "brainfuck" }, pkgerrors.LanguageNotSupported},
		{"unknown problem", func(r *CreateRequest) { r.ProblemID = 999 }, pkgerrors.ProblemNotFound},
		{"missing user", func(r *CreateRequest) { r.UserID = 0 }, pkgerrors.InvalidParams},
		{"unknown contest", func(r *CreateRequest) { r.ContestID = 999 }, pkgerrors.ContestNotFound},
	}
	for _, tt := range tests {
		req := validRequest()
		tt.mutate(req)
		_, err := svc.Create(context.Background(), req)
		if pkgerrors.GetCode(err) != tt.code {
			t.Fatalf("%s: code = %d, want %d (err: %v)", tt.name, pkgerrors.GetCode(err), tt.code, err)
		}
	}
}

func TestCreateOversizedCode(t *testing.T) {
	svc, _, _ := newFixture()
	req := validRequest()
	req.SourceCode = string(make([]byte, defaultMaxCodeBytes+1))
	_, err := svc.Create(context.Background(), req)
	if pkgerrors.GetCode(err) != pkgerrors.CodeTooLarge {
		t.Fatalf("err = %v, want CodeTooLarge", err)
	}
}

func TestCreateContestWindow(t *testing.T) {
	svc, _, _ := newFixture()
	req := validRequest()
	req.ContestID = 5

	svc.now = func() time.Time { return contestStart.Add(-time.Minute) }
	if _, err := svc.Create(context.Background(), req); pkgerrors.GetCode(err) != pkgerrors.ContestNotStarted {
		t.Fatalf("before window: %v", err)
	}

	svc.now = func() time.Time { return contestStart.Add(6 * time.Hour) }
	if _, err := svc.Create(context.Background(), req); pkgerrors.GetCode(err) != pkgerrors.ContestEnded {
		t.Fatalf("after window: %v", err)
	}

	svc.now = func() time.Time { return contestStart.Add(time.Hour) }
	if _, err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("inside window: %v", err)
	}
}

func TestCreatePublishFailureMarksSystemError(t *testing.T) {
	svc, subs, producer := newFixture()
	producer.err = errors.New("broker down")

	_, err := svc.Create(context.Background(), validRequest())
	if pkgerrors.GetCode(err) != pkgerrors.JudgeQueueFull {
		t.Fatalf("err = %v, want JudgeQueueFull", err)
	}

	s, getErr := subs.GetByID(context.Background(), 1)
	if getErr != nil {
		t.Fatalf("submission missing: %v", getErr)
	}
	if s.Status != model.StatusSystemError {
		t.Fatalf("Status = %s, want SystemError", s.Status)
	}
}

func TestGetMasksActiveOIContest(t *testing.T) {
	svc, subs, _ := newFixture()

	req := validRequest()
	req.ContestID = 5
	id, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := subs.SaveResult(context.Background(), id, model.VerdictAC, 100, &model.JudgeDetail{PassedCases: 2, TotalCases: 2}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Inside the window the verdict stays hidden.
	got, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Verdict != "" || got.Score != 0 || got.Detail != nil {
		t.Fatalf("masked view leaked: verdict=%q score=%d detail=%v", got.Verdict, got.Score, got.Detail)
	}
	if got.Status != model.StatusJudged {
		t.Fatalf("Status = %s, want Judged even while masked", got.Status)
	}

	// After the window everything is visible.
	svc.now = func() time.Time { return contestStart.Add(6 * time.Hour) }
	got, err = svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get after window: %v", err)
	}
	if got.Verdict != model.VerdictAC || got.Score != 100 {
		t.Fatalf("unmasked view wrong: verdict=%q score=%d", got.Verdict, got.Score)
	}
}

func TestListMasksPerContest(t *testing.T) {
	svc, subs, _ := newFixture()

	contestReq := validRequest()
	contestReq.ContestID = 5
	contestID, err := svc.Create(context.Background(), contestReq)
	if err != nil {
		t.Fatalf("Create contest submission: %v", err)
	}
	practiceID, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Create practice submission: %v", err)
	}
	subs.SaveResult(context.Background(), contestID, model.VerdictAC, 100, nil)
	subs.SaveResult(context.Background(), practiceID, model.VerdictWA, 50, nil)

	list, err := svc.List(context.Background(), repository.SubmissionFilter{UserID: 1}, 1, 20)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, s := range list {
		switch s.ID {
		case contestID:
			if s.Verdict != "" {
				t.Fatalf("contest submission leaked verdict %q", s.Verdict)
			}
		case practiceID:
			if s.Verdict != model.VerdictWA {
				t.Fatalf("practice submission masked: verdict=%q", s.Verdict)
			}
		}
	}
}
