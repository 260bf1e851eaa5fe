package quiz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/lsat-prep/cat/internal/cat"
	"github.com/lsat-prep/cat/internal/irt"
)

const instrumentationName = "github.com/lsat-prep/cat/internal/quiz"

// Options configures a Service.
type Options struct {
	// Defaults fill in what a create request leaves out.
	Defaults  Config
	Optimizer cat.DifferentialEvolution
	// Seed fixes the RNG behind random starting abilities and estimator
	// seeds. Zero seeds from the clock.
	Seed int64
}

// Service runs quiz sessions. Operations on one session are serialized;
// different sessions proceed in parallel.
type Service struct {
	store     *Store
	locks     *sessionLocks
	defaults  Config
	optimizer cat.DifferentialEvolution

	mu    sync.Mutex
	rng   *rand.Rand
	newID func() string

	tracer  trace.Tracer
	metrics *metrics
}

func NewService(store *Store, opts Options) *Service {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	m, err := newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		log.Printf("[quiz] metrics disabled: %v", err)
		m, _ = newMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}

	return &Service{
		store:     store,
		locks:     newSessionLocks(),
		defaults:  opts.Defaults,
		optimizer: opts.Optimizer,
		rng:       rand.New(rand.NewSource(seed)),
		newID:     uuid.NewString,
		tracer:    otel.Tracer(instrumentationName),
		metrics:   m,
	}
}

// Defaults returns the configuration applied to omitted create fields.
func (s *Service) Defaults() Config {
	return s.defaults
}

// ── Create ──────────────────────────────────────────────

// Create validates cfg and bank and persists a new session. Linear quizzes
// always run the whole bank and are scored with the linear estimator.
func (s *Service) Create(ctx context.Context, cfg Config, bank []irt.Item) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "quiz.create", trace.WithAttributes(
		attribute.Int("quiz.questions", len(bank)),
	))
	defer span.End()

	if err := validate(cfg, bank); err != nil {
		return nil, fail(span, err)
	}

	if cfg.Selector == cat.SelectorLinear {
		cfg.MaxNumberOfQuestions = len(bank)
		cfg.MinMeasurementAccuracy = 0
		cfg.Estimator = cat.EstimatorLinear
	}

	s.mu.Lock()
	seed := s.rng.Int63()
	theta := cat.NewInitializer(cfg.InputProficiency, s.rng).Initialize()
	s.mu.Unlock()

	lo, hi := irt.DifficultyRange(bank)
	sess := &Session{
		ID:            s.newID(),
		Config:        cfg,
		Bank:          append([]irt.Item(nil), bank...),
		Theta:         theta,
		StandardError: math.Inf(1),
		MinDifficulty: lo,
		MaxDifficulty: hi,
		Seed:          seed,
	}
	span.SetAttributes(attribute.String("quiz.id", sess.ID))

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fail(span, fmt.Errorf("create quiz: %w", err))
	}

	s.metrics.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("selector", string(cfg.Selector)),
		attribute.String("estimator", string(cfg.Estimator)),
	))
	log.Printf("[quiz] created %s (%d questions, %s/%s)", sess.ID, len(bank), cfg.Selector, cfg.Estimator)
	return sess, nil
}

func validate(cfg Config, bank []irt.Item) error {
	if len(bank) == 0 {
		return ErrEmptyItemBank
	}
	if cfg.MaxNumberOfQuestions < 1 {
		return fmt.Errorf("maxNumberOfQuestions must be at least 1: %w", ErrInvalidConfig)
	}
	if math.IsNaN(cfg.MinMeasurementAccuracy) || cfg.MinMeasurementAccuracy < 0 {
		return fmt.Errorf("minMeasurementAccuracy must be non-negative: %w", ErrInvalidConfig)
	}
	if math.IsNaN(cfg.InputProficiency) || math.IsInf(cfg.InputProficiency, 0) {
		return fmt.Errorf("inputProficiencyLevel must be finite: %w", ErrInvalidConfig)
	}
	if _, err := cat.ParseSelectorKind(string(cfg.Selector)); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidConfig)
	}
	if _, err := cat.ParseEstimatorKind(string(cfg.Estimator)); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidConfig)
	}

	seen := make(map[string]int, len(bank))
	for i, it := range bank {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("question %d: %v: %w", i, err, ErrInvalidQuestion)
		}
		if j, dup := seen[it.ID]; dup {
			return fmt.Errorf("questions %d and %d share id %q: %w", j, i, it.ID, ErrInvalidQuestion)
		}
		seen[it.ID] = i
	}
	return nil
}

// ── Next Question ───────────────────────────────────────

// Next records the response to the pending question, if any, and delivers
// the next one. The first call of a session takes no response. A response is
// required in [0, 1] whenever a question is pending.
func (s *Service) Next(ctx context.Context, id string, response *float64) (*NextQuestion, error) {
	ctx, span := s.tracer.Start(ctx, "quiz.next", trace.WithAttributes(attribute.String("quiz.id", id)))
	defer span.End()

	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	if sess.Finished {
		return nil, fail(span, fmt.Errorf("%s: %w", id, ErrExamFinished))
	}

	stopper := cat.NewStopper(sess.Config.MinMeasurementAccuracy, sess.Config.MaxNumberOfQuestions)

	if !sess.Pending() {
		// Nothing awaits an answer: either a fresh session or one whose
		// previous call stopped between recording and delivering.
		reason := cat.StopNone
		if len(sess.Responses) > 0 {
			// The estimate of the last response may not have been saved.
			est, err := s.estimate(ctx, sess)
			if err != nil {
				return nil, fail(span, err)
			}
			sess.Theta = est.Theta
			sess.StandardError = irt.StandardError(sess.Theta, sess.Bank, sess.Administered)
			reason = stopper.Stop(sess.Bank, sess.Administered, sess.Theta)
		}
		return s.deliver(ctx, sess, reason)
	}

	if response == nil || math.IsNaN(*response) || *response < 0 || *response > 1 {
		return nil, fail(span, fmt.Errorf("response must be within [0, 1]: %w", ErrInvalidResponse))
	}
	r := *response

	if err := s.store.AppendResponse(ctx, id, r); err != nil {
		return nil, fail(span, err)
	}
	sess.Responses = append(sess.Responses, r)
	s.metrics.responses.Add(ctx, 1)

	est, err := s.estimate(ctx, sess)
	if err != nil {
		return nil, fail(span, err)
	}
	sess.Theta = est.Theta
	sess.StandardError = irt.StandardError(sess.Theta, sess.Bank, sess.Administered)

	reason := stopper.Stop(sess.Bank, sess.Administered, sess.Theta)
	return s.deliver(ctx, sess, reason)
}

// deliver selects the next question unless reason already ends the quiz,
// then persists the progress.
func (s *Service) deliver(ctx context.Context, sess *Session, reason cat.StopReason) (*NextQuestion, error) {
	span := trace.SpanFromContext(ctx)

	next := -1
	if reason == cat.StopNone {
		idx, ok := sess.Config.Selector.Selector().Select(sess.Bank, sess.Administered, sess.Theta)
		if ok {
			next = idx
		} else {
			reason = cat.StopBankExhausted
		}
	}
	finished := reason != cat.StopNone

	if err := s.store.SaveProgress(ctx, sess.ID, sess.Theta, sess.StandardError, finished); err != nil {
		return nil, fail(span, err)
	}

	out := &NextQuestion{
		SessionID:     sess.ID,
		Index:         next,
		Theta:         sess.Theta,
		StandardError: sess.StandardError,
		Finished:      finished,
		StopReason:    reason,
	}
	if finished {
		s.metrics.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
		span.SetAttributes(attribute.String("quiz.stop_reason", string(reason)))
		log.Printf("[quiz] %s finished after %d questions (%s)", sess.ID, len(sess.Administered), reason)
		return out, nil
	}

	if err := s.store.AppendAdministered(ctx, sess.ID, next); err != nil {
		return nil, fail(span, err)
	}
	item := sess.Bank[next]
	out.Item = &item
	return out, nil
}

func (s *Service) estimate(ctx context.Context, sess *Session) (cat.Estimate, error) {
	ctx, span := s.tracer.Start(ctx, "quiz.estimate", trace.WithAttributes(
		attribute.String("estimator", string(sess.Config.Estimator)),
		attribute.Int("quiz.responses", len(sess.Responses)),
	))
	defer span.End()

	estimator := sess.Config.Estimator.Estimator(cat.EstimatorParams{
		Lower:     sess.MinDifficulty,
		Upper:     sess.MaxDifficulty,
		Seed:      sess.Seed,
		Optimizer: s.optimizer,
	})

	start := time.Now()
	est, err := estimator.Estimate(sess.Bank, sess.Administered, sess.Responses, sess.Theta)
	s.metrics.estimateSeconds.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("estimator", string(sess.Config.Estimator))))
	if err != nil {
		return est, fail(span, fmt.Errorf("estimate proficiency: %w", err))
	}

	span.SetAttributes(attribute.Int("optimizer.generations", est.Generations))
	if !est.Converged {
		s.metrics.nonConverged.Add(ctx, 1)
		log.Printf("[quiz] warning: estimator did not converge for %s after %d generations, using best theta %.4f",
			sess.ID, est.Generations, est.Theta)
	}
	return est, nil
}

// ── Result ──────────────────────────────────────────────

// Result returns the session snapshot. A linear quiz must be finished; its
// score is recomputed with the linear formula and reported with zero error.
func (s *Service) Result(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "quiz.result", trace.WithAttributes(attribute.String("quiz.id", id)))
	defer span.End()

	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	if sess.Config.Selector != cat.SelectorLinear {
		return sess, nil
	}

	if !sess.Finished {
		return nil, fail(span, fmt.Errorf("%s: %w", id, ErrResultNotReady))
	}
	sess.Theta = cat.LinearScore(sess.Bank, sess.Administered, sess.Responses)
	sess.StandardError = 0
	if err := s.store.SaveProgress(ctx, id, sess.Theta, sess.StandardError, true); err != nil {
		return nil, fail(span, err)
	}
	return sess, nil
}

// ── Delete ──────────────────────────────────────────────

func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "quiz.delete", trace.WithAttributes(attribute.String("quiz.id", id)))
	defer span.End()

	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return fail(span, err)
	}
	log.Printf("[quiz] deleted %s", id)
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ── Metrics ─────────────────────────────────────────────

type metrics struct {
	created         metric.Int64Counter
	responses       metric.Int64Counter
	finished        metric.Int64Counter
	nonConverged    metric.Int64Counter
	estimateSeconds metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var m metrics
	var errs []error
	var err error

	m.created, err = meter.Int64Counter("cat.quiz.created",
		metric.WithDescription("Quizzes created"))
	errs = append(errs, err)
	m.responses, err = meter.Int64Counter("cat.quiz.responses",
		metric.WithDescription("Responses recorded"))
	errs = append(errs, err)
	m.finished, err = meter.Int64Counter("cat.quiz.finished",
		metric.WithDescription("Quizzes finished, by stop reason"))
	errs = append(errs, err)
	m.nonConverged, err = meter.Int64Counter("cat.estimator.nonconverged",
		metric.WithDescription("Estimations that ran out of generations"))
	errs = append(errs, err)
	m.estimateSeconds, err = meter.Float64Histogram("cat.estimator.duration",
		metric.WithDescription("Time spent estimating proficiency"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}
