package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymentModels "pipay/internal/payment/models"
)

func TestLocalCoalescesConcurrentCalls(t *testing.T) {
	g := NewLocal()
	release := make(chan struct{})
	var calls atomic.Int32

	fn := func(context.Context) (*paymentModels.Receipt, error) {
		calls.Add(1)
		<-release
		return &paymentModels.Receipt{IdempotencyKey: "k1", Status: paymentModels.StatusApproved}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan *paymentModels.Receipt, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := g.Do(context.Background(), "k1", fn)
			assert.NoError(t, err)
			results <- r
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the remaining callers join
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), calls.Load())
	var seen []*paymentModels.Receipt
	for r := range results {
		assert.Equal(t, paymentModels.StatusApproved, r.Status)
		seen = append(seen, r)
	}
	require.Len(t, seen, n)
	seen[0].Status = paymentModels.StatusRejected
	assert.Equal(t, paymentModels.StatusApproved, seen[1].Status, "callers get independent copies")
}

func TestLocalDistinctKeysRunIndependently(t *testing.T) {
	g := NewLocal()
	var calls atomic.Int32
	fn := func(context.Context) (*paymentModels.Receipt, error) {
		calls.Add(1)
		return &paymentModels.Receipt{}, nil
	}
	_, err := g.Do(context.Background(), "a", fn)
	require.NoError(t, err)
	_, err = g.Do(context.Background(), "b", fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLocalSharesErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewLocal().Do(context.Background(), "k", func(context.Context) (*paymentModels.Receipt, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLocalCallerCancellation(t *testing.T) {
	g := NewLocal()
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, "k", func(ctx context.Context) (*paymentModels.Receipt, error) {
			<-release
			return &paymentModels.Receipt{}, ctx.Err()
		})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("caller was not released on cancellation")
	}
}
