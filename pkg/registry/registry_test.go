package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ganzzi/llm-queue/pkg/modelqueue"
	"github.com/Ganzzi/llm-queue/pkg/queue"
)

func echoProcessor(ctx context.Context, req *queue.Request[string]) (string, error) {
	return req.Params, nil
}

func testModelConfig(id string) queue.ModelConfig {
	return queue.ModelConfig{
		ModelID: id,
		Limiters: []queue.LimiterConfig{
			{Kind: queue.KindRPM, Limit: 10, TimePeriod: time.Minute},
			{Kind: queue.KindConcurrent, Limit: 2},
		},
	}
}

func TestRegistry_RegisterAndSubmit(t *testing.T) {
	r := New(nil)
	defer r.ShutdownAll(context.Background())

	require.NoError(t, Register[string, string](r, testModelConfig("m1"), modelqueue.Processor[string, string](echoProcessor)))

	req := queue.NewRequest("m1", "ping")
	resp, err := Submit[string, string](context.Background(), r, req)
	require.NoError(t, err)
	assert.Equal(t, "ping", resp.Result)
	assert.Equal(t, queue.StatusCompleted, resp.Status)
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := New(nil)
	defer r.ShutdownAll(context.Background())

	require.NoError(t, Register[string, string](r, testModelConfig("m1"), modelqueue.Processor[string, string](echoProcessor)))
	err := Register[string, string](r, testModelConfig("m1"), modelqueue.Processor[string, string](echoProcessor))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrAlreadyRegistered)
}

func TestRegistry_SubmitToUnknownModelFails(t *testing.T) {
	r := New(nil)
	defer r.ShutdownAll(context.Background())

	req := queue.NewRequest("ghost", "ping")
	_, err := Submit[string, string](context.Background(), r, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrModelNotRegistered)
}

func TestRegistry_ListAndQueueInfo(t *testing.T) {
	r := New(nil)
	defer r.ShutdownAll(context.Background())

	require.NoError(t, Register[string, string](r, testModelConfig("m1"), modelqueue.Processor[string, string](echoProcessor)))
	require.NoError(t, Register[string, string](r, testModelConfig("m2"), modelqueue.Processor[string, string](echoProcessor)))

	assert.ElementsMatch(t, []string{"m1", "m2"}, r.ListModels())

	info, err := r.GetQueueInfo("m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", info.ModelID)
	assert.Len(t, info.Limiters, 2)
	assert.Equal(t, 0, info.RateLimiterUsage)

	req := queue.NewRequest("m1", "ping")
	_, err = Submit[string, string](context.Background(), r, req)
	require.NoError(t, err)

	info, err = r.GetQueueInfo("m1")
	require.NoError(t, err)
	// RateLimiterUsage mirrors the first configured limiter (RPM here),
	// which stays booked after a successful admission.
	assert.Equal(t, 1, info.RateLimiterUsage)
}

func TestRegistry_InvalidConfigRejected(t *testing.T) {
	r := New(nil)
	defer r.ShutdownAll(context.Background())

	cfg := queue.ModelConfig{ModelID: "bad"}
	err := Register[string, string](r, cfg, modelqueue.Processor[string, string](echoProcessor))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrInvalidConfiguration)
}

func TestRegistry_ShutdownAllClearsRegistry(t *testing.T) {
	r := New(nil)
	require.NoError(t, Register[string, string](r, testModelConfig("m1"), modelqueue.Processor[string, string](echoProcessor)))
	require.NoError(t, r.ShutdownAll(context.Background()))
	assert.Empty(t, r.ListModels())
}

func TestDefault_SetDefaultReplacesInstance(t *testing.T) {
	custom := New(nil)
	SetDefault(custom)
	assert.Same(t, custom, Default())
}
