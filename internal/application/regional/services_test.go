package regional

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/transit-analyst/internal/domain/regional"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memRepo struct {
	mu   sync.Mutex
	rows map[domain.AnalysisID]*domain.RegionalAnalysis

	// beforeSoftDelete runs unlocked at the start of SoftDelete.
	beforeSoftDelete func()
}

func newMemRepo() *memRepo { return &memRepo{rows: map[domain.AnalysisID]*domain.RegionalAnalysis{}} }

func (r *memRepo) put(a *domain.RegionalAnalysis) {
	c := *a
	r.rows[a.ID] = &c
}

func (r *memRepo) Save(_ context.Context, a *domain.RegionalAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(a)
	return nil
}

func (r *memRepo) Update(_ context.Context, a *domain.RegionalAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[a.ID]; !ok {
		return domain.ErrNotFound
	}
	r.put(a)
	return nil
}

func (r *memRepo) SoftDelete(_ context.Context, group string, id domain.AnalysisID) (bool, error) {
	if r.beforeSoftDelete != nil {
		r.beforeSoftDelete()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.AccessGroup != group || a.Deleted {
		return false, domain.ErrNotFound
	}
	a.Deleted = true
	return a.Complete, nil
}

func (r *memRepo) Get(_ context.Context, group string, id domain.AnalysisID) (*domain.RegionalAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || a.AccessGroup != group {
		return nil, domain.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *memRepo) ListByProject(_ context.Context, group, projectID string) ([]*domain.RegionalAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.RegionalAnalysis
	for _, a := range r.rows {
		if a.AccessGroup == group && a.ProjectID == projectID && !a.Deleted {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memRepo) MarkComplete(_ context.Context, id domain.AnalysisID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		a.Complete = true
	}
	return nil
}

type fakeBroker struct {
	mu         sync.Mutex
	enqueued   []domain.AnalysisID
	cancelled  []domain.AnalysisID
	enqueueErr error
	cancelErr  error

	cancelCtxErr   error
	cancelDeadline time.Time
}

func (b *fakeBroker) Enqueue(_ context.Context, a *domain.RegionalAnalysis) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enqueueErr != nil {
		return b.enqueueErr
	}
	b.enqueued = append(b.enqueued, a.ID)
	return nil
}

func (b *fakeBroker) Cancel(ctx context.Context, id domain.AnalysisID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelCtxErr = ctx.Err()
	b.cancelDeadline, _ = ctx.Deadline()
	b.cancelled = append(b.cancelled, id)
	return b.cancelErr
}

func newService() (*Service, *memRepo, *fakeBroker) {
	repo := newMemRepo()
	broker := &fakeBroker{}
	return &Service{
		Repo:   repo,
		Broker: broker,
		Clock:  fixedClock{t: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)},
	}, repo, broker
}

func dcCommand() CreateAnalysisCommand {
	return CreateAnalysisCommand{
		ProjectID:            "p1",
		Name:                 "DC baseline",
		TravelTimePercentile: 50,
		Bounds:               &domain.Bounds{North: 39.0, East: -76.9, South: 38.8, West: -77.1},
		AccessGroup:          "g1",
	}
}

func TestCreateSubmitsJob(t *testing.T) {
	svc, repo, broker := newService()

	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)

	assert.Len(t, string(a.ID), 32)
	assert.Equal(t, string(a.ID), a.Request.ScenarioID)
	assert.Equal(t, domain.DefaultZoom, a.Zoom)
	assert.Equal(t, domain.LonToPixel(-77.1, 9), a.West)
	assert.Equal(t, domain.LatToPixel(39.0, 9), a.North)
	assert.Positive(t, a.Width)
	assert.Positive(t, a.Height)
	assert.False(t, a.Complete)
	assert.Equal(t, svc.Clock.Now(), a.CreatedAt)

	assert.Equal(t, []domain.AnalysisID{a.ID}, broker.enqueued)
	stored, err := repo.Get(context.Background(), "g1", a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Deleted)
}

func TestCreateValidation(t *testing.T) {
	svc, repo, broker := newService()

	noBounds := dcCommand()
	noBounds.Bounds = nil
	legacy := dcCommand()
	legacy.TravelTimePercentile = -1
	inverted := dcCommand()
	inverted.Bounds = &domain.Bounds{North: 39, East: -77.1, South: 38.8, West: -76.9}

	for _, cmd := range []CreateAnalysisCommand{noBounds, legacy, inverted} {
		_, err := svc.Create(context.Background(), cmd)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	}
	assert.Empty(t, repo.rows)
	assert.Empty(t, broker.enqueued)
}

func TestCreateBrokerDown(t *testing.T) {
	svc, repo, broker := newService()
	broker.enqueueErr = errors.New("connection refused")

	_, err := svc.Create(context.Background(), dcCommand())
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)

	require.Len(t, repo.rows, 1)
	for _, a := range repo.rows {
		assert.True(t, a.Deleted, "an analysis the broker never accepted is retired")
	}
	list, err := svc.List(context.Background(), "g1", "p1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteCancelsIncompleteJob(t *testing.T) {
	svc, repo, broker := newService()
	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)

	deleted, err := svc.Delete(context.Background(), "g1", a.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, []domain.AnalysisID{a.ID}, broker.cancelled)
	assert.True(t, repo.rows[a.ID].Deleted)

	_, err = svc.Delete(context.Background(), "g1", a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, broker.cancelled, 1, "cancel is issued once")

	_, err = svc.Get(context.Background(), "g1", a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteCompleteJobDoesNotCancel(t *testing.T) {
	svc, _, broker := newService()
	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)
	require.NoError(t, svc.MarkComplete(context.Background(), a.ID))
	require.NoError(t, svc.MarkComplete(context.Background(), a.ID))

	_, err = svc.Delete(context.Background(), "g1", a.ID)
	require.NoError(t, err)
	assert.Empty(t, broker.cancelled)
}

func TestDeleteIgnoresCancelFailure(t *testing.T) {
	svc, repo, broker := newService()
	broker.cancelErr = errors.New("broker gone")
	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)

	_, err = svc.Delete(context.Background(), "g1", a.ID)
	require.NoError(t, err)
	assert.True(t, repo.rows[a.ID].Deleted)
}

func TestDeleteOtherGroup(t *testing.T) {
	svc, _, broker := newService()
	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)

	_, err = svc.Delete(context.Background(), "g2", a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, broker.cancelled)
}

func TestConcurrentDeletesCancelOnce(t *testing.T) {
	svc, repo, broker := newService()
	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Delete(context.Background(), "g1", a.ID)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrNotFound)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, []domain.AnalysisID{a.ID}, broker.cancelled)
	assert.True(t, repo.rows[a.ID].Deleted)
}

func TestDeleteKeepsCompletionRecordedMeanwhile(t *testing.T) {
	svc, repo, broker := newService()
	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)
	repo.beforeSoftDelete = func() {
		require.NoError(t, repo.MarkComplete(context.Background(), a.ID))
	}

	deleted, err := svc.Delete(context.Background(), "g1", a.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Complete)
	assert.True(t, repo.rows[a.ID].Complete, "a completion seen after the read is not overwritten")
	assert.Empty(t, broker.cancelled, "a job that finished is not cancelled")
}

func TestDeleteCancelsWithOwnDeadline(t *testing.T) {
	svc, _, broker := newService()
	svc.CancelTimeout = 2 * time.Second
	a, err := svc.Create(context.Background(), dcCommand())
	require.NoError(t, err)

	// the client is already gone when the cancel is sent
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err = svc.Delete(ctx, "g1", a.ID)
	require.NoError(t, err)

	require.Len(t, broker.cancelled, 1)
	assert.NoError(t, broker.cancelCtxErr)
	require.False(t, broker.cancelDeadline.IsZero())
	assert.WithinDuration(t, start.Add(2*time.Second), broker.cancelDeadline, time.Second)
}
