package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anicoll/bqloader"
	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInmemory(t *testing.T) {
	l := NewInmemory()
	require.NotNil(t, l)
	require.NotNil(t, l.m)
	assert.Empty(t, l.Records())
}

func TestInmemoryLedger_Get(t *testing.T) {
	ctx := context.Background()
	l := NewInmemory()

	t.Run("absent destination", func(t *testing.T) {
		r, err := l.Get(ctx, "p.NGram.GRAM_2013_01_1")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("returns a copy", func(t *testing.T) {
		require.NoError(t, l.RecordSubmitted(ctx, &bqloader.LoadRecord{Destination: "p.d.t", JobID: "job-1"}))

		r, err := l.Get(ctx, "p.d.t")
		require.NoError(t, err)
		require.NotNil(t, r)
		r.JobID = "changed"

		again, err := l.Get(ctx, "p.d.t")
		require.NoError(t, err)
		assert.Equal(t, "job-1", again.JobID)
	})
}

func TestInmemoryLedger_RecordSubmitted(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("sets running state and submit time", func(t *testing.T) {
		l := NewInmemory()
		l.now = func() time.Time { return fixed }
		dest := faker.Word()

		err := l.RecordSubmitted(ctx, &bqloader.LoadRecord{
			Destination: dest,
			JobID:       "job-1",
			Scheme:      bqloader.SchemeMonthlyCorpus,
			Year:        2013,
			Month:       4,
			Gram:        2,
			State:       bqloader.JobFailed,
			Detail:      "stale",
		})
		require.NoError(t, err)

		r, err := l.Get(ctx, dest)
		require.NoError(t, err)
		assert.Equal(t, bqloader.JobRunning, r.State)
		assert.Empty(t, r.Detail)
		assert.Equal(t, fixed, r.SubmittedAt)
		assert.Nil(t, r.FinishedAt)
		assert.Equal(t, bqloader.PartitionKey{Year: 2013, Month: 4, Gram: 2}, r.Key())
		assert.True(t, r.Loaded())
	})

	t.Run("replaces previous record", func(t *testing.T) {
		l := NewInmemory()
		require.NoError(t, l.RecordSubmitted(ctx, &bqloader.LoadRecord{Destination: "d", JobID: "job-1"}))
		require.NoError(t, l.UpdateState(ctx, "d", bqloader.JobStatus{State: bqloader.JobFailed, Detail: "boom"}))
		require.NoError(t, l.RecordSubmitted(ctx, &bqloader.LoadRecord{Destination: "d", JobID: "job-2"}))

		r, err := l.Get(ctx, "d")
		require.NoError(t, err)
		assert.Equal(t, "job-2", r.JobID)
		assert.Equal(t, bqloader.JobRunning, r.State)
		assert.Nil(t, r.FinishedAt)
	})

	t.Run("missing destination", func(t *testing.T) {
		l := NewInmemory()
		assert.ErrorIs(t, l.RecordSubmitted(ctx, &bqloader.LoadRecord{}), ErrMissingDestination)
		assert.ErrorIs(t, l.RecordSubmitted(ctx, nil), ErrMissingDestination)
	})
}

func TestInmemoryLedger_UpdateState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		status       bqloader.JobStatus
		wantFinished bool
		wantLoaded   bool
	}{
		{name: "done", status: bqloader.JobStatus{State: bqloader.JobDone}, wantFinished: true, wantLoaded: true},
		{name: "failed", status: bqloader.JobStatus{State: bqloader.JobFailed, Detail: "bad rows"}, wantFinished: true, wantLoaded: false},
		{name: "running", status: bqloader.JobStatus{State: bqloader.JobRunning}, wantFinished: false, wantLoaded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewInmemory()
			require.NoError(t, l.RecordSubmitted(ctx, &bqloader.LoadRecord{Destination: "d", JobID: "job"}))
			require.NoError(t, l.UpdateState(ctx, "d", tt.status))

			r, err := l.Get(ctx, "d")
			require.NoError(t, err)
			assert.Equal(t, tt.status.State, r.State)
			assert.Equal(t, tt.status.Detail, r.Detail)
			assert.Equal(t, tt.wantFinished, r.FinishedAt != nil)
			assert.Equal(t, tt.wantLoaded, r.Loaded())
		})
	}

	t.Run("unknown destination", func(t *testing.T) {
		l := NewInmemory()
		err := l.UpdateState(ctx, "missing", bqloader.JobStatus{State: bqloader.JobDone})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInmemoryLedger_Concurrency(t *testing.T) {
	ctx := context.Background()
	l := NewInmemory()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dest := fmt.Sprintf("p.d.t_%02d", i)
			assert.NoError(t, l.RecordSubmitted(ctx, &bqloader.LoadRecord{Destination: dest, JobID: fmt.Sprint(i)}))
			assert.NoError(t, l.UpdateState(ctx, dest, bqloader.JobStatus{State: bqloader.JobDone}))
		}()
	}
	wg.Wait()

	records := l.Records()
	require.Len(t, records, 50)
	assert.Equal(t, "p.d.t_00", records[0].Destination)
	assert.Equal(t, "p.d.t_49", records[49].Destination)
	for _, r := range records {
		assert.Equal(t, bqloader.JobDone, r.State)
	}
}
