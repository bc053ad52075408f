package modelqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ganzzi/llm-queue/pkg/limiter"
	"github.com/Ganzzi/llm-queue/pkg/metrics"
	"github.com/Ganzzi/llm-queue/pkg/queue"
)

func unlimitedChain(modelID string) *limiter.Chain {
	return limiter.NewChain(modelID, []queue.LimiterConfig{
		{Kind: queue.KindConcurrent, Limit: 10},
	}, nil)
}

func TestQueue_EnqueueWaitsForCompletionByDefault(t *testing.T) {
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) {
		return "echo:" + req.Params, nil
	}
	q := New[string, string]("m", unlimitedChain("m"), proc, metrics.NoOp())
	defer q.Shutdown(context.Background())

	req := queue.NewRequest("m", "hello")
	resp, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, resp.Status)
	assert.Equal(t, "echo:hello", resp.Result)
}

func TestQueue_EnqueueReturnsImmediatelyWhenNotWaiting(t *testing.T) {
	release := make(chan struct{})
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) {
		<-release
		return req.Params, nil
	}
	q := New[string, string]("m", unlimitedChain("m"), proc, metrics.NoOp())
	defer func() {
		close(release)
		q.Shutdown(context.Background())
	}()

	req := queue.NewRequest("m", "hi")
	req.WaitForCompletion = false
	resp, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, resp.Status)
}

func TestQueue_ProcessorErrorYieldsFailedStatus(t *testing.T) {
	boom := errors.New("boom")
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) {
		return "", boom
	}
	q := New[string, string]("m", unlimitedChain("m"), proc, metrics.NoOp())
	defer q.Shutdown(context.Background())

	req := queue.NewRequest("m", "x")
	resp, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, resp.Status)
	require.Error(t, resp.Err)
	assert.ErrorIs(t, resp.Err, boom)
}

func TestQueue_FIFOOrdering(t *testing.T) {
	var order []string
	done := make(chan struct{})
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) {
		order = append(order, req.Params)
		if len(order) == 3 {
			close(done)
		}
		return req.Params, nil
	}
	q := New[string, string]("m", unlimitedChain("m"), proc, metrics.NoOp())
	defer q.Shutdown(context.Background())

	for _, p := range []string{"a", "b", "c"} {
		req := queue.NewRequest("m", p)
		req.WaitForCompletion = false
		_, err := q.Enqueue(context.Background(), req)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor never ran all three requests")
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestQueue_UpdateTokenUsageIsIdempotent(t *testing.T) {
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) { return req.Params, nil }
	chain := limiter.NewChain("m", []queue.LimiterConfig{
		{Kind: queue.KindTPM, Limit: 1000, TimePeriod: time.Minute},
	}, nil)
	q := New[string, string]("m", chain, proc, metrics.NoOp())
	defer q.Shutdown(context.Background())

	req := queue.NewRequest("m", "x")
	req.EstimatedInputTokens = 100
	req.EstimatedOutputTokens = 0
	resp, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, resp.Status)

	require.NoError(t, q.UpdateTokenUsage(req.ID, 40, 0))
	usage := chain.Usages()[0].Usage
	assert.Equal(t, 40, usage)

	// repeating with identical actuals must not apply the delta twice.
	require.NoError(t, q.UpdateTokenUsage(req.ID, 40, 0))
	assert.Equal(t, 40, chain.Usages()[0].Usage)
}

func TestQueue_ProcessorMutatedActualsArePublished(t *testing.T) {
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) {
		req.ActualInputTokens = 12
		req.ActualOutputTokens = 34
		return req.Params, nil
	}
	q := New[string, string]("m", unlimitedChain("m"), proc, metrics.NoOp())
	defer q.Shutdown(context.Background())

	req := queue.NewRequest("m", "x")
	req.EstimatedInputTokens = 100
	req.EstimatedOutputTokens = 100
	resp, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 12, resp.InputTokensUsed)
	assert.Equal(t, 34, resp.OutputTokensUsed)
}

func TestQueue_GetStatusReflectsReconciledActualsAfterCompletion(t *testing.T) {
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) { return req.Params, nil }
	chain := limiter.NewChain("m", []queue.LimiterConfig{
		{Kind: queue.KindTPM, Limit: 1000, TimePeriod: time.Minute},
	}, nil)
	q := New[string, string]("m", chain, proc, metrics.NoOp())
	defer q.Shutdown(context.Background())

	req := queue.NewRequest("m", "x")
	req.EstimatedInputTokens = 80
	resp, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, resp.Status)
	// the processor never set actuals, so the published estimate-less
	// usage starts at zero until reconciliation reports real numbers.
	assert.Equal(t, 0, resp.InputTokensUsed)

	require.NoError(t, q.UpdateTokenUsage(req.ID, 50, 0))
	status, ok := q.GetStatus(req.ID)
	require.True(t, ok)
	assert.Equal(t, 50, status.InputTokensUsed)
	assert.Equal(t, 50, chain.Usages()[0].Usage)
}

func TestQueue_ShutdownDrainsPendingWork(t *testing.T) {
	var processed int32
	proc := func(ctx context.Context, req *queue.Request[string]) (string, error) {
		processed++
		return req.Params, nil
	}
	q := New[string, string]("m", unlimitedChain("m"), proc, metrics.NoOp())

	for i := 0; i < 5; i++ {
		req := queue.NewRequest("m", "x")
		req.WaitForCompletion = false
		_, err := q.Enqueue(context.Background(), req)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	assert.Equal(t, int32(5), processed)
}
