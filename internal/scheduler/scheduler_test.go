package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	dates   []time.Time
	err     error
	started chan struct{}
	block   chan struct{}
}

func (f *fakeRunner) EndOfDay(_ context.Context, asOf time.Time) (*models.RiskReport, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dates = append(f.dates, asOf)
	if f.err != nil {
		return nil, f.err
	}
	return &models.RiskReport{RunID: "run", AsOfDate: asOf}, nil
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dates)
}

type fakePruner struct {
	cutoff time.Time
	calls  int
}

func (p *fakePruner) DeletePricesOlderThan(_ context.Context, date time.Time) (int64, error) {
	p.calls++
	p.cutoff = date
	return 3, nil
}

func TestRunEndOfDay_UsesCalendarDateAndPrunes(t *testing.T) {
	runner := &fakeRunner{}
	pruner := &fakePruner{}
	s := New(context.Background(), runner, pruner, 10, nil, nil)

	s.RunEndOfDay(context.Background(), time.Date(2025, 6, 2, 18, 30, 0, 0, time.UTC))

	require.Equal(t, 1, runner.calls())
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), runner.dates[0])
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, time.Date(2025, 5, 23, 0, 0, 0, 0, time.UTC), pruner.cutoff)
}

func TestRunEndOfDay_FailureSkipsPruning(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no contracts")}
	pruner := &fakePruner{}
	s := New(context.Background(), runner, pruner, 10, nil, nil)

	s.RunEndOfDay(context.Background(), time.Now())
	assert.Equal(t, 0, pruner.calls)
}

func TestRunEndOfDay_SkipsOverlappingRuns(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}), block: make(chan struct{})}
	s := New(context.Background(), runner, nil, 0, nil, nil)

	done := make(chan struct{})
	go func() {
		s.RunEndOfDay(context.Background(), time.Now())
		close(done)
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not start")
	}

	s.RunEndOfDay(context.Background(), time.Now())
	close(runner.block)
	<-done

	assert.Equal(t, 1, runner.calls())
}

func TestAddEndOfDay_RejectsBadSpec(t *testing.T) {
	s := New(context.Background(), &fakeRunner{}, nil, 0, time.UTC, nil)

	_, err := s.AddEndOfDay("not a cron spec")
	assert.Error(t, err)

	id, err := s.AddEndOfDay("0 30 18 * * 1-5")
	require.NoError(t, err)
	assert.NotZero(t, id)

	s.Start()
	s.Stop()
}
