package quiz

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsat-prep/cat/internal/cat"
	"github.com/lsat-prep/cat/internal/irt"
	"github.com/lsat-prep/cat/internal/store"
)

func testDefaults() Config {
	return Config{
		MaxNumberOfQuestions:   20,
		MinMeasurementAccuracy: 0.4,
		InputProficiency:       cat.RandomProficiency,
		Selector:               cat.SelectorMaxInfo,
		Estimator:              cat.EstimatorDifferentialEvolution,
	}
}

func newTestService(t *testing.T, seed int64) *Service {
	t.Helper()
	return NewService(NewStore(store.NewMemory()), Options{
		Defaults:  testDefaults(),
		Optimizer: cat.DefaultDifferentialEvolution(),
		Seed:      seed,
	})
}

func bankOf(difficulties ...float64) []irt.Item {
	bank := make([]irt.Item, len(difficulties))
	for i, b := range difficulties {
		bank[i] = irt.NewItem(strconv.Itoa(i), b)
	}
	return bank
}

func answer(v float64) *float64 { return &v }

func TestService_LinearQuiz(t *testing.T) {
	svc := newTestService(t, 1)
	ctx := testContext(t)

	difficulties := []float64{3.0872, -0.2159, -0.4813}
	cfg := testDefaults()
	cfg.Selector = cat.SelectorLinear
	sess, err := svc.Create(ctx, cfg, bankOf(difficulties...))
	require.NoError(t, err)

	// Linear quizzes run the whole bank
	assert.Equal(t, 3, sess.Config.MaxNumberOfQuestions)
	assert.Equal(t, 0.0, sess.Config.MinMeasurementAccuracy)
	assert.Equal(t, cat.EstimatorLinear, sess.Config.Estimator)

	responses := []float64{1, 0, 1}
	next, err := svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, next.Item)
	assert.Equal(t, "0", next.Item.ID)

	_, err = svc.Result(ctx, sess.ID)
	require.ErrorIs(t, err, ErrResultNotReady)

	for i, r := range responses {
		next, err = svc.Next(ctx, sess.ID, answer(r))
		require.NoError(t, err)
		if i < len(responses)-1 {
			require.False(t, next.Finished, "finished early after response %d", i+1)
			require.NotNil(t, next.Item)
			assert.Equal(t, strconv.Itoa(i+1), next.Item.ID)
		}
	}
	assert.True(t, next.Finished)
	assert.Nil(t, next.Item)
	assert.Equal(t, cat.StopMaxItems, next.StopReason)

	_, err = svc.Next(ctx, sess.ID, answer(1))
	require.ErrorIs(t, err, ErrExamFinished)

	res, err := svc.Result(ctx, sess.ID)
	require.NoError(t, err)
	want := (3.0872*1 + -0.2159*0 + -0.4813*1) / (3.0872 - 0.2159 - 0.4813)
	assert.InDelta(t, want, res.Theta, 1e-9)
	assert.Equal(t, 0.0, res.StandardError)
	assert.Equal(t, []int{0, 1, 2}, res.Administered)
	assert.Equal(t, responses, res.Responses)

	// The score is persisted
	again, err := svc.Result(ctx, sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, want, again.Theta, 1e-9)
}

func TestService_AdaptiveSingleItem(t *testing.T) {
	svc := newTestService(t, 1)
	ctx := testContext(t)

	cfg := testDefaults()
	cfg.MaxNumberOfQuestions = 1
	cfg.MinMeasurementAccuracy = 0
	cfg.InputProficiency = 0
	sess, err := svc.Create(ctx, cfg, []irt.Item{{ID: "q1", Discrimination: 1, Difficulty: 0, PseudoGuessing: 0, UpperAsymptote: 1}})
	require.NoError(t, err)
	assert.True(t, math.IsInf(sess.StandardError, 1))

	next, err := svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, next.Item)
	assert.Equal(t, "q1", next.Item.ID)
	assert.False(t, next.Finished)
	assert.False(t, irt.Measurable(next.StandardError))

	next, err = svc.Next(ctx, sess.ID, answer(1))
	require.NoError(t, err)
	assert.True(t, next.Finished)
	assert.Nil(t, next.Item)

	res, err := svc.Result(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	require.Len(t, res.AdministeredItems(), 1)
	assert.Equal(t, "q1", res.AdministeredItems()[0].ID)
	assert.Equal(t, []float64{1.0}, res.Responses)
}

func TestService_AdaptiveInvariants(t *testing.T) {
	svc := newTestService(t, 7)
	ctx := testContext(t)

	cfg := testDefaults()
	cfg.MaxNumberOfQuestions = 6
	cfg.MinMeasurementAccuracy = 0
	bank := bankOf(-2, -1.5, -1, -0.5, 0, 0.5, 1, 1.5, 2, 2.5)
	sess, err := svc.Create(ctx, cfg, bank)
	require.NoError(t, err)

	next, err := svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)

	for n := 1; ; n++ {
		r := float64(n % 2)
		next, err = svc.Next(ctx, sess.ID, answer(r))
		require.NoError(t, err)

		snap, err := svc.Result(ctx, sess.ID)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, len(snap.Administered), len(snap.Responses))
		assert.LessOrEqual(t, len(snap.Administered), len(snap.Responses)+1)
		assert.GreaterOrEqual(t, snap.Theta, -2.0)
		assert.LessOrEqual(t, snap.Theta, 2.5)
		assert.GreaterOrEqual(t, snap.StandardError, 0.0)

		seen := make(map[int]bool)
		for _, idx := range snap.Administered {
			assert.False(t, seen[idx], "item %d administered twice", idx)
			seen[idx] = true
		}

		if next.Finished {
			assert.Equal(t, cfg.MaxNumberOfQuestions, n, "max item stopper fired at the wrong response")
			assert.Len(t, snap.Administered, cfg.MaxNumberOfQuestions)
			break
		}
		require.Less(t, n, cfg.MaxNumberOfQuestions)
	}
}

func TestService_MinErrorStopper(t *testing.T) {
	bank := []irt.Item{
		{ID: "a", Discrimination: 2, Difficulty: -1, UpperAsymptote: 1},
		{ID: "b", Discrimination: 2, Difficulty: 0, UpperAsymptote: 1},
		{ID: "c", Discrimination: 2, Difficulty: 1, UpperAsymptote: 1},
	}

	tests := []struct {
		name      string
		threshold float64
		finished  bool
	}{
		{"loose threshold stops after first response", 3, true},
		{"tight threshold keeps going", 0.1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, 3)
			ctx := testContext(t)

			cfg := testDefaults()
			cfg.MaxNumberOfQuestions = 10
			cfg.MinMeasurementAccuracy = tt.threshold
			cfg.InputProficiency = 0
			sess, err := svc.Create(ctx, cfg, bank)
			require.NoError(t, err)

			first, err := svc.Next(ctx, sess.ID, nil)
			require.NoError(t, err)
			assert.Equal(t, "b", first.Item.ID)

			next, err := svc.Next(ctx, sess.ID, answer(1))
			require.NoError(t, err)
			assert.Equal(t, tt.finished, next.Finished)
			if tt.finished {
				assert.Equal(t, cat.StopMinError, next.StopReason)
				assert.LessOrEqual(t, next.StandardError, tt.threshold)
			}
		})
	}
}

func TestService_BankExhausted(t *testing.T) {
	svc := newTestService(t, 5)
	ctx := testContext(t)

	cfg := testDefaults()
	cfg.MaxNumberOfQuestions = 5
	cfg.MinMeasurementAccuracy = 0
	sess, err := svc.Create(ctx, cfg, bankOf(-1, 1))
	require.NoError(t, err)

	_, err = svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)
	next, err := svc.Next(ctx, sess.ID, answer(1))
	require.NoError(t, err)
	require.False(t, next.Finished)

	next, err = svc.Next(ctx, sess.ID, answer(0))
	require.NoError(t, err)
	assert.True(t, next.Finished)
	assert.Equal(t, cat.StopBankExhausted, next.StopReason)
}

func TestService_CreateErrors(t *testing.T) {
	svc := newTestService(t, 1)

	tests := []struct {
		name   string
		mutate func(*Config)
		bank   []irt.Item
		want   error
	}{
		{"empty bank", nil, nil, ErrEmptyItemBank},
		{"zero max questions", func(c *Config) { c.MaxNumberOfQuestions = 0 }, bankOf(0), ErrInvalidConfig},
		{"negative accuracy", func(c *Config) { c.MinMeasurementAccuracy = -1 }, bankOf(0), ErrInvalidConfig},
		{"unknown selector", func(c *Config) { c.Selector = "bogus" }, bankOf(0), ErrInvalidConfig},
		{"infinite proficiency", func(c *Config) { c.InputProficiency = math.Inf(1) }, bankOf(0), ErrInvalidConfig},
		{"duplicate ids", nil, []irt.Item{irt.NewItem("x", 0), irt.NewItem("x", 1)}, ErrInvalidQuestion},
		{"guessing above asymptote", nil, []irt.Item{{ID: "x", Discrimination: 1, PseudoGuessing: 0.5, UpperAsymptote: 0.4}}, ErrInvalidQuestion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testDefaults()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := svc.Create(testContext(t), cfg, tt.bank)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_InvalidResponse(t *testing.T) {
	svc := newTestService(t, 1)
	ctx := testContext(t)

	sess, err := svc.Create(ctx, testDefaults(), bankOf(-1, 0, 1))
	require.NoError(t, err)
	_, err = svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)

	for _, bad := range []*float64{nil, answer(-0.1), answer(1.5), answer(math.NaN())} {
		_, err := svc.Next(ctx, sess.ID, bad)
		assert.ErrorIs(t, err, ErrInvalidResponse)
	}

	snap, err := svc.Result(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Administered, 1)
	assert.Empty(t, snap.Responses)

	// Fractional credit is accepted
	_, err = svc.Next(ctx, sess.ID, answer(0.5))
	require.NoError(t, err)
}

func TestService_RandomStart(t *testing.T) {
	svc := newTestService(t, 11)

	for i := 0; i < 20; i++ {
		sess, err := svc.Create(testContext(t), testDefaults(), bankOf(0))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sess.Theta, -5.0)
		assert.LessOrEqual(t, sess.Theta, 5.0)
	}
}

func TestService_Delete(t *testing.T) {
	svc := newTestService(t, 1)
	ctx := testContext(t)

	sess, err := svc.Create(ctx, testDefaults(), bankOf(-1, 0, 1))
	require.NoError(t, err)
	_, err = svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, sess.ID))

	_, err = svc.Next(ctx, sess.ID, answer(1))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Result(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, sess.ID), ErrSessionNotFound)
}

func TestService_Deterministic(t *testing.T) {
	run := func() []float64 {
		svc := newTestService(t, 99)
		ctx := testContext(t)

		cfg := testDefaults()
		cfg.MaxNumberOfQuestions = 5
		cfg.MinMeasurementAccuracy = 0
		sess, err := svc.Create(ctx, cfg, bankOf(-2, -1, 0, 1, 2, 3))
		require.NoError(t, err)

		_, err = svc.Next(ctx, sess.ID, nil)
		require.NoError(t, err)

		var thetas []float64
		for _, r := range []float64{1, 0, 1, 1} {
			next, err := svc.Next(ctx, sess.ID, answer(r))
			require.NoError(t, err)
			thetas = append(thetas, next.Theta)
		}
		return thetas
	}

	first, second := run(), run()
	require.Len(t, second, len(first))
	for i := range first {
		assert.InDelta(t, first[i], second[i], 1e-2)
	}
}

func TestService_ConcurrentResponses(t *testing.T) {
	svc := newTestService(t, 1)
	ctx := testContext(t)

	cfg := testDefaults()
	cfg.MaxNumberOfQuestions = 30
	cfg.MinMeasurementAccuracy = 0
	difficulties := make([]float64, 30)
	for i := range difficulties {
		difficulties[i] = -3 + 0.2*float64(i)
	}
	sess, err := svc.Create(ctx, cfg, bankOf(difficulties...))
	require.NoError(t, err)
	_, err = svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, err := svc.Next(ctx, sess.ID, answer(float64(w%2)))
			errs <- err
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := svc.Result(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Responses, workers)
	assert.Len(t, snap.Administered, workers+1)

	seen := make(map[int]bool)
	for _, idx := range snap.Administered {
		assert.False(t, seen[idx], "item %d administered twice", idx)
		seen[idx] = true
	}
	assert.Zero(t, svc.locks.inFlight())
}

// flakyKV fails the next N calls of selected operations.
type flakyKV struct {
	*store.Memory
	failMSet     int
	failRPush    int
	failRegister int
}

var errFlaky = errors.New("kv unavailable")

func (f *flakyKV) MSet(ctx context.Context, fields map[string]string) error {
	if f.failMSet > 0 {
		f.failMSet--
		return errFlaky
	}
	return f.Memory.MSet(ctx, fields)
}

func (f *flakyKV) RPush(ctx context.Context, key string, values ...string) error {
	if f.failRPush > 0 {
		f.failRPush--
		return errFlaky
	}
	return f.Memory.RPush(ctx, key, values...)
}

func (f *flakyKV) Register(ctx context.Context, id string) error {
	if f.failRegister > 0 {
		f.failRegister--
		return errFlaky
	}
	return f.Memory.Register(ctx, id)
}

func TestService_RecoversLostEstimate(t *testing.T) {
	cfg := testDefaults()
	cfg.MaxNumberOfQuestions = 5
	cfg.MinMeasurementAccuracy = 0
	cfg.InputProficiency = 0
	bank := bankOf(-2, -1, 0, 1, 2)

	newSvc := func(kv store.KV) *Service {
		return NewService(NewStore(kv), Options{
			Defaults:  testDefaults(),
			Optimizer: cat.DefaultDifferentialEvolution(),
			Seed:      21,
		})
	}

	// Reference run without failures
	ref := newSvc(store.NewMemory())
	refSess, err := ref.Create(testContext(t), cfg, bank)
	require.NoError(t, err)
	_, err = ref.Next(testContext(t), refSess.ID, nil)
	require.NoError(t, err)
	want, err := ref.Next(testContext(t), refSess.ID, answer(1))
	require.NoError(t, err)

	kv := &flakyKV{Memory: store.NewMemory()}
	svc := newSvc(kv)
	ctx := testContext(t)
	sess, err := svc.Create(ctx, cfg, bank)
	require.NoError(t, err)
	_, err = svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)

	// The response is recorded but saving the estimate fails
	kv.failMSet = 1
	_, err = svc.Next(ctx, sess.ID, answer(1))
	require.ErrorIs(t, err, errFlaky)

	next, err := svc.Next(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.True(t, irt.Measurable(next.StandardError))
	assert.InDelta(t, want.Theta, next.Theta, 1e-9)
	assert.InDelta(t, want.StandardError, next.StandardError, 1e-9)
	require.NotNil(t, next.Item)
	assert.Equal(t, want.Item.ID, next.Item.ID)

	snap, err := svc.Result(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Administered, 2)
	assert.Equal(t, []float64{1}, snap.Responses)
	assert.InDelta(t, want.Theta, snap.Theta, 1e-9)
	assert.True(t, irt.Measurable(snap.StandardError))
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
