package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaderFunc func(ctx context.Context, userID string) ([]Statement, error)

func (f loaderFunc) LoadStatements(ctx context.Context, userID string) ([]Statement, error) {
	return f(ctx, userID)
}

func TestCache_LoadsOncePerUser(t *testing.T) {
	calls := 0
	c := NewCache(New(), loaderFunc(func(_ context.Context, userID string) ([]Statement, error) {
		calls++
		return []Statement{{UserID: userID, StatementID: "q1", AsOfDate: d1, UploadedAt: t0, Holdings: holdings(1)}}, nil
	}))

	for i := 0; i < 3; i++ {
		s, ok, err := c.CurrentStatement(context.Background(), "u1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "q1", s.StatementID)
	}
	assert.Equal(t, 1, calls)
}

func TestCache_RecordedStatementBeatsStoredCopy(t *testing.T) {
	c := NewCache(New(), loaderFunc(func(_ context.Context, userID string) ([]Statement, error) {
		return []Statement{
			{UserID: userID, StatementID: "q1", AsOfDate: d1, UploadedAt: t0, Holdings: holdings(1)},
			{UserID: userID, StatementID: "q2", AsOfDate: d2, UploadedAt: t0, Holdings: holdings(2)},
		}, nil
	}))
	c.Record(Statement{UserID: "u1", StatementID: "q2", AsOfDate: d2, UploadedAt: t0, Holdings: holdings(2, 3)})

	s, ok, err := c.CurrentStatement(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"2", "3"}, numbers(s.Holdings))

	all, err := c.Statements(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCache_LoadError(t *testing.T) {
	boom := errors.New("bigquery down")
	fail := true
	c := NewCache(New(), loaderFunc(func(context.Context, string) ([]Statement, error) {
		if fail {
			return nil, boom
		}
		return nil, nil
	}))

	_, _, err := c.CurrentStatement(context.Background(), "u1")
	require.ErrorIs(t, err, boom)

	fail = false
	_, ok, err := c.CurrentStatement(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_NilLoader(t *testing.T) {
	c := NewCache(New(), nil)
	_, ok, err := c.CurrentStatement(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_SlowUserDoesNotBlockOthers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewCache(New(), loaderFunc(func(_ context.Context, userID string) ([]Statement, error) {
		if userID == "slow" {
			close(entered)
			<-release
		}
		return []Statement{{UserID: userID, StatementID: "q1", AsOfDate: d1, UploadedAt: t0, Holdings: holdings(1)}}, nil
	}))

	slowDone := make(chan error, 1)
	go func() {
		_, _, err := c.CurrentStatement(context.Background(), "slow")
		slowDone <- err
	}()
	<-entered

	fastDone := make(chan error, 1)
	go func() {
		_, _, err := c.CurrentStatement(context.Background(), "fast")
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("query for another user waited on a slow load")
	}

	close(release)
	require.NoError(t, <-slowDone)
	s, ok, err := c.CurrentStatement(context.Background(), "slow")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "q1", s.StatementID)
}

func TestCache_ConcurrentQueriesLoadOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c := NewCache(New(), loaderFunc(func(_ context.Context, userID string) ([]Statement, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Statements(context.Background(), "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}
