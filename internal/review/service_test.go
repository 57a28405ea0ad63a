package review_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	"github.com/dvloznov/portfolio-tracker/internal/review/inmemory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.July, 2, 10, 0, 0, 0, time.UTC)

func staged(t *testing.T, n int) (*review.Service, []*domain.PendingTransaction) {
	t.Helper()
	var txs []*domain.PendingTransaction
	for i := 0; i < n; i++ {
		txs = append(txs, &domain.PendingTransaction{
			ID:              fmt.Sprintf("tx-%d", i),
			UserID:          "user-1",
			UploadBatchID:   "batch-1",
			TransactionType: domain.TransactionTypeBuy,
			Status:          domain.StatusPending,
			Source:          domain.SourceRef{Page: 1, Row: i},
		})
	}
	store := inmemory.NewStore()
	require.NoError(t, store.StageBatch(context.Background(), "batch-1", txs))
	return review.NewService(store).WithClock(func() time.Time { return now }), txs
}

func TestService_ApproveTwiceConflicts(t *testing.T) {
	svc, _ := staged(t, 1)
	ctx := context.Background()

	tx, err := svc.Approve(ctx, "tx-0", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, tx.Status)
	assert.Equal(t, now, *tx.ReviewedAt)

	_, err = svc.Approve(ctx, "tx-0", "bob")
	assert.True(t, errors.Is(err, domain.ErrConflictingReview))
	_, err = svc.Reject(ctx, "tx-0", "bob")
	assert.True(t, errors.Is(err, domain.ErrConflictingReview))

	stored, err := svc.Store().Get(ctx, "tx-0")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.ReviewedBy)
}

func TestService_NotFoundAndValidation(t *testing.T) {
	svc, _ := staged(t, 1)
	ctx := context.Background()

	_, err := svc.Approve(ctx, "missing", "alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.Approve(ctx, "tx-0", "")
	assert.Error(t, err)

	neg := decimal.NewFromInt(-5)
	_, err = svc.Modify(ctx, "tx-0", "alice", domain.Overrides{Quantity: &neg})
	assert.True(t, errors.Is(err, domain.ErrInvalidOverride))

	stored, err := svc.Store().Get(ctx, "tx-0")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestService_ModifyThenApprove(t *testing.T) {
	svc, _ := staged(t, 1)
	ctx := context.Background()
	q := decimal.NewFromInt(7)

	tx, err := svc.Modify(ctx, "tx-0", "alice", domain.Overrides{Quantity: &q})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusModified, tx.Status)

	tx, err = svc.Approve(ctx, "tx-0", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, tx.Status)
	assert.True(t, q.Equal(tx.Quantity.Decimal))
}

func TestService_BulkApproveIsPerRecord(t *testing.T) {
	svc, _ := staged(t, 4)
	ctx := context.Background()

	_, err := svc.Reject(ctx, "tx-1", "alice")
	require.NoError(t, err)

	outcomes, err := svc.BulkApprove(ctx, "batch-1", "bob")
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	for _, o := range outcomes {
		if o.ID == "tx-1" {
			assert.True(t, errors.Is(o.Err, domain.ErrConflictingReview))
			assert.Equal(t, domain.StatusRejected, o.Status)
			assert.NotEmpty(t, o.Error)
			continue
		}
		assert.NoError(t, o.Err)
		assert.Equal(t, domain.StatusApproved, o.Status)
	}

	approved, err := svc.Store().ListByUser(ctx, "user-1", domain.StatusApproved)
	require.NoError(t, err)
	assert.Len(t, approved, 3)
}

func TestService_ConcurrentApproveOnlyOneWins(t *testing.T) {
	svc, _ := staged(t, 1)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = svc.Approve(ctx, "tx-0", fmt.Sprintf("r%d", i))
			} else {
				_, err = svc.Reject(ctx, "tx-0", fmt.Sprintf("r%d", i))
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, domain.ErrConflictingReview) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 15, conflicts)
}
