package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nageing/nano-oj-backend/internal/common/cache"
	"github.com/nageing/nano-oj-backend/internal/common/mq"
	"github.com/nageing/nano-oj-backend/internal/contest/model"
	"github.com/nageing/nano-oj-backend/internal/contest/repository"
	pkgerrors "github.com/nageing/nano-oj-backend/pkg/errors"
	judgemodel "github.com/nageing/nano-oj-backend/internal/judge/model"
)

var contestStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type memContests struct {
	contests map[int64]*model.Contest
	problems map[[2]int64]*model.ContestProblem
}

func (m *memContests) GetByID(_ context.Context, id int64) (*model.Contest, error) {
	c, ok := m.contests[id]
	if !ok {
		return nil, repository.ErrContestNotFound
	}
	return c, nil
}

func (m *memContests) GetProblem(_ context.Context, contestID, problemID int64) (*model.ContestProblem, error) {
	cp, ok := m.problems[[2]int64{contestID, problemID}]
	if !ok {
		return nil, repository.ErrContestProblemNotFound
	}
	return cp, nil
}

type memRankings struct {
	mu   sync.Mutex
	rows map[[2]int64]*model.RankingEntry
}

func newMemRankings() *memRankings {
	return &memRankings{rows: make(map[[2]int64]*model.RankingEntry)}
}

func (m *memRankings) Get(_ context.Context, contestID, userID int64) (*model.RankingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.rows[[2]int64{contestID, userID}]
	if !ok {
		return nil, repository.ErrRankingNotFound
	}
	// Round-trip the problems map so callers never share our state.
	raw, err := entry.EncodeProblems()
	if err != nil {
		return nil, err
	}
	problems, err := model.DecodeProblems(raw)
	if err != nil {
		return nil, err
	}
	clone := *entry
	clone.Problems = problems
	return &clone, nil
}

func (m *memRankings) Upsert(_ context.Context, entry *model.RankingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	m.rows[[2]int64{entry.ContestID, entry.UserID}] = &clone
	return nil
}

func (m *memRankings) ListByContest(_ context.Context, contestID int64, limit int) ([]*model.RankingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*model.RankingEntry
	for key, entry := range m.rows {
		if key[0] == contestID && len(entries) < limit {
			clone := *entry
			entries = append(entries, &clone)
		}
	}
	return entries, nil
}

type memUsers struct {
	profiles map[int64]*repository.UserProfile
}

func (m *memUsers) GetProfile(_ context.Context, id int64) (*repository.UserProfile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return p, nil
}

func testCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	return c
}

func acmContest(id int64) *model.Contest {
	return &model.Contest{
		ID:        id,
		Title:     "weekly",
		Rule:      model.RuleACM,
		StartTime: contestStart,
		EndTime:   contestStart.Add(5 * time.Hour),
	}
}

func finishedMessage(t *testing.T, event judgemodel.JudgeFinishedEvent) *mq.Message {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return mq.NewMessage(body)
}

func newRankingFixture(t *testing.T, contest *model.Contest) (*RankingService, *memRankings) {
	t.Helper()
	contests := &memContests{
		contests: map[int64]*model.Contest{contest.ID: contest},
		problems: map[[2]int64]*model.ContestProblem{
			{contest.ID, 7}: {ContestID: contest.ID, ProblemID: 7, DisplayID: "A", MaxScore: 100},
		},
	}
	rankings := newMemRankings()
	users := &memUsers{profiles: map[int64]*repository.UserProfile{
		42: {ID: 42, Name: "alice", Avatar: "a.png"},
	}}
	svc := NewRankingService(contests, rankings, users, testCache(t))
	return svc, rankings
}

func TestHandleFinishedCreatesEntry(t *testing.T) {
	svc, rankings := newRankingFixture(t, acmContest(1))

	event := judgemodel.JudgeFinishedEvent{
		SubmissionID: 10, UserID: 42, ProblemID: 7, ContestID: 1,
		Verdict: judgemodel.VerdictAC, Score: 100,
		SubmittedAt: contestStart.Add(30 * time.Minute),
	}
	if err := svc.HandleFinished(context.Background(), finishedMessage(t, event)); err != nil {
		t.Fatalf("HandleFinished: %v", err)
	}

	entry, err := rankings.Get(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("entry not persisted: %v", err)
	}
	if entry.Solved != 1 || entry.Penalty != 30*60 {
		t.Fatalf("solved=%d penalty=%d", entry.Solved, entry.Penalty)
	}
	if entry.UserName != "alice" {
		t.Fatalf("UserName = %q, want alice", entry.UserName)
	}
}

func TestHandleFinishedRedeliveryIsIdempotent(t *testing.T) {
	svc, rankings := newRankingFixture(t, acmContest(1))

	wrong := judgemodel.JudgeFinishedEvent{
		SubmissionID: 10, UserID: 42, ProblemID: 7, ContestID: 1,
		Verdict: judgemodel.VerdictWA, SubmittedAt: contestStart.Add(10 * time.Minute),
	}
	msg := finishedMessage(t, wrong)
	for i := 0; i < 3; i++ {
		if err := svc.HandleFinished(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	entry, err := rankings.Get(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("entry not persisted: %v", err)
	}
	if got := entry.Problems[7].WrongAttempts; got != 1 {
		t.Fatalf("WrongAttempts = %d after redelivery, want 1", got)
	}
}

func TestHandleFinishedSkipsSystemErrorAndPractice(t *testing.T) {
	svc, rankings := newRankingFixture(t, acmContest(1))

	se := judgemodel.JudgeFinishedEvent{
		SubmissionID: 10, UserID: 42, ProblemID: 7, ContestID: 1,
		Verdict: judgemodel.VerdictSE, SubmittedAt: contestStart,
	}
	if err := svc.HandleFinished(context.Background(), finishedMessage(t, se)); err != nil {
		t.Fatalf("system error event: %v", err)
	}
	practice := judgemodel.JudgeFinishedEvent{
		SubmissionID: 11, UserID: 42, ProblemID: 7,
		Verdict: judgemodel.VerdictAC, Score: 100, SubmittedAt: contestStart,
	}
	if err := svc.HandleFinished(context.Background(), finishedMessage(t, practice)); err != nil {
		t.Fatalf("practice event: %v", err)
	}

	if _, err := rankings.Get(context.Background(), 1, 42); !errors.Is(err, repository.ErrRankingNotFound) {
		t.Fatalf("no entry should exist, got err=%v", err)
	}
}

func TestHandleFinishedConcurrentSameUser(t *testing.T) {
	svc, rankings := newRankingFixture(t, acmContest(1))

	events := make([]judgemodel.JudgeFinishedEvent, 8)
	for i := range events {
		events[i] = judgemodel.JudgeFinishedEvent{
			SubmissionID: int64(100 + i), UserID: 42, ProblemID: 7, ContestID: 1,
			Verdict:     judgemodel.VerdictWA,
			SubmittedAt: contestStart.Add(time.Duration(i) * time.Minute),
		}
	}

	var wg sync.WaitGroup
	results := make([]error, len(events))
	for i := range events {
		msg := finishedMessage(t, events[i])
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.HandleFinished(context.Background(), msg)
		}(i)
	}
	wg.Wait()

	// Lock contention may bounce some deliveries; replay those serially
	// the way the broker would.
	for i, err := range results {
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrLockBusy) {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if err := svc.HandleFinished(context.Background(), finishedMessage(t, events[i])); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}

	entry, err := rankings.Get(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("entry not persisted: %v", err)
	}
	if entry.Problems[7].WrongAttempts != 8 {
		t.Fatalf("WrongAttempts = %d, want 8", entry.Problems[7].WrongAttempts)
	}
}

func TestLeaderboardOrdersFromMirror(t *testing.T) {
	svc, _ := newRankingFixture(t, acmContest(1))

	users := []struct {
		id     int64
		minute int
	}{{42, 30}, {43, 10}, {44, 50}}
	for i, u := range users {
		event := judgemodel.JudgeFinishedEvent{
			SubmissionID: int64(10 + i), UserID: u.id, ProblemID: 7, ContestID: 1,
			Verdict: judgemodel.VerdictAC, Score: 100,
			SubmittedAt: contestStart.Add(time.Duration(u.minute) * time.Minute),
		}
		if err := svc.HandleFinished(context.Background(), finishedMessage(t, event)); err != nil {
			t.Fatalf("user %d: %v", u.id, err)
		}
	}

	entries, err := svc.Leaderboard(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	wantOrder := []int64{43, 42, 44} // lowest penalty first
	for i, want := range wantOrder {
		if entries[i].UserID != want {
			t.Fatalf("position %d = user %d, want %d", i, entries[i].UserID, want)
		}
	}
}

func TestLeaderboardHiddenDuringOIWindow(t *testing.T) {
	contest := acmContest(2)
	contest.Rule = model.RuleOI
	svc, _ := newRankingFixture(t, contest)
	svc.now = func() time.Time { return contestStart.Add(time.Hour) }

	_, err := svc.Leaderboard(context.Background(), 2, 10)
	if pkgerrors.GetCode(err) != pkgerrors.RankingNotAvailable {
		t.Fatalf("err = %v, want RankingNotAvailable", err)
	}

	svc.now = func() time.Time { return contestStart.Add(6 * time.Hour) }
	if _, err := svc.Leaderboard(context.Background(), 2, 10); err != nil {
		t.Fatalf("board must open after the window: %v", err)
	}
}
