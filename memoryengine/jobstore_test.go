package memoryengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulib/lending-engine-go/memoryengine"
	"github.com/circulib/lending-engine-go/scheduler"
)

var jobTestNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func givenPendingJob(t *testing.T, store *memoryengine.JobStore, kind string, runAt time.Time) scheduler.Job {
	t.Helper()

	job := scheduler.Job{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   []byte("{}"),
		RunAt:     runAt,
		Status:    scheduler.StatusPending,
		CreatedAt: runAt,
		UpdatedAt: runAt,
	}
	require.NoError(t, store.Enqueue(context.Background(), job))

	return job
}

func Test_ClaimDue_ClaimsOnlyDueJobsOldestFirst(t *testing.T) {
	// arrange
	store := memoryengine.NewJobStore()
	older := givenPendingJob(t, store, "test.older", jobTestNow.Add(-2*time.Hour))
	newer := givenPendingJob(t, store, "test.newer", jobTestNow.Add(-time.Hour))
	givenPendingJob(t, store, "test.future", jobTestNow.Add(time.Hour))

	// act
	claimed, err := store.ClaimDue(context.Background(), jobTestNow, jobTestNow.Add(30*time.Second), 10)

	// assert
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, older.ID, claimed[0].ID)
	assert.Equal(t, newer.ID, claimed[1].ID)

	for _, job := range claimed {
		assert.Equal(t, scheduler.StatusRunning, job.Status)
		require.NotNil(t, job.LeaseExpiresAt)
		assert.Equal(t, jobTestNow.Add(30*time.Second), *job.LeaseExpiresAt)
	}
}

func Test_ClaimDue_JobIsNeverClaimedTwiceConcurrently(t *testing.T) {
	// arrange
	store := memoryengine.NewJobStore()
	givenPendingJob(t, store, "test.contended", jobTestNow.Add(-time.Hour))

	const workers = 16

	var wg sync.WaitGroup
	claims := make(chan int, workers)

	// act
	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			claimed, err := store.ClaimDue(context.Background(), jobTestNow, jobTestNow.Add(30*time.Second), 1)
			assert.NoError(t, err)
			claims <- len(claimed)
		}()
	}

	wg.Wait()
	close(claims)

	// assert
	total := 0
	for n := range claims {
		total += n
	}

	assert.Equal(t, 1, total)
}

func Test_ClaimDue_ReclaimsJobWithExpiredLease(t *testing.T) {
	// arrange: the job is claimed but its worker crashed, so the lease runs out
	store := memoryengine.NewJobStore()
	job := givenPendingJob(t, store, "test.orphaned", jobTestNow.Add(-time.Hour))

	claimed, err := store.ClaimDue(context.Background(), jobTestNow, jobTestNow.Add(30*time.Second), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// act: before the lease expires nothing is claimable
	early, err := store.ClaimDue(context.Background(), jobTestNow.Add(10*time.Second), jobTestNow.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Empty(t, early)

	// after expiry the job is handed to the next worker
	reclaimed, err := store.ClaimDue(context.Background(), jobTestNow.Add(31*time.Second), jobTestNow.Add(time.Minute), 1)

	// assert
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, job.ID, reclaimed[0].ID)
	assert.Equal(t, scheduler.StatusRunning, reclaimed[0].Status)
}

func Test_ExtendLease_PushesExpiryOfRunningJob(t *testing.T) {
	// arrange
	store := memoryengine.NewJobStore()
	job := givenPendingJob(t, store, "test.longrunner", jobTestNow.Add(-time.Hour))

	claimed, err := store.ClaimDue(context.Background(), jobTestNow, jobTestNow.Add(30*time.Second), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// act
	until := jobTestNow.Add(time.Minute)
	require.NoError(t, store.ExtendLease(context.Background(), job.ID, until))

	// assert: the job stays unclaimable past the original lease expiry
	early, err := store.ClaimDue(context.Background(), jobTestNow.Add(31*time.Second), jobTestNow.Add(2*time.Minute), 1)
	require.NoError(t, err)
	assert.Empty(t, early)

	stored, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LeaseExpiresAt)
	assert.Equal(t, until, *stored.LeaseExpiresAt)
}

func Test_EnsureRecurring_ReusesExistingRecurrenceOfSameKind(t *testing.T) {
	// arrange
	store := memoryengine.NewJobStore()
	first := scheduler.Job{
		ID:       uuid.New(),
		Kind:     "test.recurring",
		Schedule: "0 * * * *",
		RunAt:    jobTestNow,
		Status:   scheduler.StatusPending,
	}

	firstID, err := store.EnsureRecurring(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, first.ID, firstID)

	// act
	second := first
	second.ID = uuid.New()

	secondID, err := store.EnsureRecurring(context.Background(), second)

	// assert
	require.NoError(t, err)
	assert.Equal(t, first.ID, secondID)
}

func Test_MarkRetrying_MakesJobClaimableAtTheRetryInstant(t *testing.T) {
	// arrange
	store := memoryengine.NewJobStore()
	job := givenPendingJob(t, store, "test.flaky", jobTestNow.Add(-time.Hour))

	claimed, err := store.ClaimDue(context.Background(), jobTestNow, jobTestNow.Add(30*time.Second), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	retryAt := jobTestNow.Add(15 * time.Second)
	require.NoError(t, store.MarkRetrying(context.Background(), job.ID, 1, "boom", retryAt, jobTestNow))

	// act + assert: not claimable before the retry instant
	early, err := store.ClaimDue(context.Background(), jobTestNow.Add(10*time.Second), jobTestNow.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Empty(t, early)

	due, err := store.ClaimDue(context.Background(), retryAt, retryAt.Add(30*time.Second), 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].ID)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "boom", due[0].LastError)
}

func Test_TerminalJobsAreNotClaimable(t *testing.T) {
	// arrange
	store := memoryengine.NewJobStore()
	succeeded := givenPendingJob(t, store, "test.done", jobTestNow.Add(-time.Hour))
	failed := givenPendingJob(t, store, "test.parked", jobTestNow.Add(-time.Hour))

	require.NoError(t, store.MarkSucceeded(context.Background(), succeeded.ID, jobTestNow))
	require.NoError(t, store.MarkFailed(context.Background(), failed.ID, 5, "boom", jobTestNow))

	// act
	claimed, err := store.ClaimDue(context.Background(), jobTestNow.Add(time.Hour), jobTestNow.Add(2*time.Hour), 10)

	// assert
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func Test_ListByStatus_FiltersAndOrdersByRunAt(t *testing.T) {
	// arrange
	store := memoryengine.NewJobStore()
	later := givenPendingJob(t, store, "test.later", jobTestNow.Add(2*time.Hour))
	earlier := givenPendingJob(t, store, "test.earlier", jobTestNow.Add(time.Hour))

	failed := givenPendingJob(t, store, "test.parked", jobTestNow.Add(-time.Hour))
	require.NoError(t, store.MarkFailed(context.Background(), failed.ID, 5, "boom", jobTestNow))

	// act
	pending, err := store.ListByStatus(context.Background(), scheduler.StatusPending, 10)

	// assert
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, earlier.ID, pending[0].ID)
	assert.Equal(t, later.ID, pending[1].ID)
}
