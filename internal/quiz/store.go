package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/lsat-prep/cat/internal/cat"
	"github.com/lsat-prep/cat/internal/irt"
	"github.com/lsat-prep/cat/internal/store"
)

// Field names of a session in the key-value store.
const (
	fieldMaxQuestions  = "maxNumberOfQuestions"
	fieldMinAccuracy   = "minMeasurementAccuracy"
	fieldInputLevel    = "inputProficiencyLevel"
	fieldSelector      = "questionSelector"
	fieldEstimator     = "competencyEstimator"
	fieldTheta         = "estTheta"
	fieldStandardError = "standardErrorOfEstimation"
	fieldFinished      = "quizFinished"
	fieldMinDifficulty = "minDiff"
	fieldMaxDifficulty = "maxDiff"
	fieldSeed          = "estimatorSeed"

	listQuestions    = "questions"
	listAdministered = "administeredItems"
	listResponses    = "responses"
)

var scalarFields = []string{
	fieldMaxQuestions, fieldMinAccuracy, fieldInputLevel, fieldSelector, fieldEstimator,
	fieldTheta, fieldStandardError, fieldFinished, fieldMinDifficulty, fieldMaxDifficulty, fieldSeed,
}

// Store maps sessions onto a store.KV, one key per field under the session id.
type Store struct {
	kv store.KV
}

func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

func key(id, field string) string {
	return "quiz:" + id + ":" + field
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ── Session Lifecycle ───────────────────────────────────

// Create persists a new session. The id is registered last so a partially
// written session is never visible.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	fields := map[string]string{
		key(sess.ID, fieldMaxQuestions):  strconv.Itoa(sess.Config.MaxNumberOfQuestions),
		key(sess.ID, fieldMinAccuracy):   formatFloat(sess.Config.MinMeasurementAccuracy),
		key(sess.ID, fieldInputLevel):    formatFloat(sess.Config.InputProficiency),
		key(sess.ID, fieldSelector):      string(sess.Config.Selector),
		key(sess.ID, fieldEstimator):     string(sess.Config.Estimator),
		key(sess.ID, fieldTheta):         formatFloat(sess.Theta),
		key(sess.ID, fieldStandardError): formatFloat(sess.StandardError),
		key(sess.ID, fieldFinished):      strconv.FormatBool(sess.Finished),
		key(sess.ID, fieldMinDifficulty): formatFloat(sess.MinDifficulty),
		key(sess.ID, fieldMaxDifficulty): formatFloat(sess.MaxDifficulty),
		key(sess.ID, fieldSeed):          strconv.FormatInt(sess.Seed, 10),
	}
	if err := s.kv.MSet(ctx, fields); err != nil {
		return fmt.Errorf("save quiz config: %w", err)
	}

	questions := make([]string, len(sess.Bank))
	for i, it := range sess.Bank {
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode question %s: %w", it.ID, err)
		}
		questions[i] = string(b)
	}
	if err := s.kv.RPush(ctx, key(sess.ID, listQuestions), questions...); err != nil {
		s.discard(ctx, sess.ID)
		return fmt.Errorf("save questions: %w", err)
	}

	if err := s.kv.Register(ctx, sess.ID); err != nil {
		s.discard(ctx, sess.ID)
		return fmt.Errorf("register quiz: %w", err)
	}
	return nil
}

// discard removes what a failed Create wrote. The session was never
// registered, so a failure here only leaves unreachable keys.
func (s *Store) discard(ctx context.Context, id string) {
	if err := s.kv.Del(ctx, sessionKeys(id)...); err != nil {
		log.Printf("[quiz] cleanup of unregistered quiz %s failed: %v", id, err)
	}
}

func sessionKeys(id string) []string {
	keys := make([]string, 0, len(scalarFields)+3)
	for _, f := range scalarFields {
		keys = append(keys, key(id, f))
	}
	return append(keys, key(id, listQuestions), key(id, listAdministered), key(id, listResponses))
}

func (s *Store) exists(ctx context.Context, id string) error {
	ok, err := s.kv.Registered(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup quiz: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// Load reads the full session snapshot.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	keys := make([]string, len(scalarFields))
	for i, f := range scalarFields {
		keys[i] = key(id, f)
	}
	vals, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("load quiz %s: %w", id, err)
	}
	raw := make(map[string]string, len(vals))
	for i, f := range scalarFields {
		raw[f] = vals[i]
	}

	sess := &Session{ID: id}
	p := parser{raw: raw}
	sess.Config.MaxNumberOfQuestions = p.intField(fieldMaxQuestions)
	sess.Config.MinMeasurementAccuracy = p.floatField(fieldMinAccuracy)
	sess.Config.InputProficiency = p.floatField(fieldInputLevel)
	sess.Config.Selector = cat.SelectorKind(raw[fieldSelector])
	sess.Config.Estimator = cat.EstimatorKind(raw[fieldEstimator])
	sess.Theta = p.floatField(fieldTheta)
	sess.StandardError = p.floatField(fieldStandardError)
	sess.Finished = p.boolField(fieldFinished)
	sess.MinDifficulty = p.floatField(fieldMinDifficulty)
	sess.MaxDifficulty = p.floatField(fieldMaxDifficulty)
	sess.Seed = p.int64Field(fieldSeed)
	if p.err != nil {
		return nil, fmt.Errorf("decode quiz %s: %w", id, p.err)
	}

	if sess.Bank, err = s.loadQuestions(ctx, id); err != nil {
		return nil, err
	}
	if sess.Administered, err = s.loadAdministered(ctx, id); err != nil {
		return nil, err
	}
	if sess.Responses, err = s.loadResponses(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) loadQuestions(ctx context.Context, id string) ([]irt.Item, error) {
	raw, err := s.kv.LRange(ctx, key(id, listQuestions))
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	bank := make([]irt.Item, len(raw))
	for i, q := range raw {
		if err := json.Unmarshal([]byte(q), &bank[i]); err != nil {
			return nil, fmt.Errorf("decode question %d: %w", i, err)
		}
	}
	return bank, nil
}

func (s *Store) loadAdministered(ctx context.Context, id string) ([]int, error) {
	raw, err := s.kv.LRange(ctx, key(id, listAdministered))
	if err != nil {
		return nil, fmt.Errorf("load administered items: %w", err)
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		if out[i], err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode administered item %d: %w", i, err)
		}
	}
	return out, nil
}

func (s *Store) loadResponses(ctx context.Context, id string) ([]float64, error) {
	raw, err := s.kv.LRange(ctx, key(id, listResponses))
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		if out[i], err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("decode response %d: %w", i, err)
		}
	}
	return out, nil
}

// ── Progress ────────────────────────────────────────────

func (s *Store) AppendAdministered(ctx context.Context, id string, index int) error {
	if err := s.kv.RPush(ctx, key(id, listAdministered), strconv.Itoa(index)); err != nil {
		return fmt.Errorf("append administered item: %w", err)
	}
	return nil
}

func (s *Store) AppendResponse(ctx context.Context, id string, response float64) error {
	if err := s.kv.RPush(ctx, key(id, listResponses), formatFloat(response)); err != nil {
		return fmt.Errorf("append response: %w", err)
	}
	return nil
}

// SaveProgress writes the estimate, its standard error and the finished flag.
func (s *Store) SaveProgress(ctx context.Context, id string, theta, standardError float64, finished bool) error {
	err := s.kv.MSet(ctx, map[string]string{
		key(id, fieldTheta):         formatFloat(theta),
		key(id, fieldStandardError): formatFloat(standardError),
		key(id, fieldFinished):      strconv.FormatBool(finished),
	})
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Delete removes the session and every key it owns.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Unregister(ctx, id); err != nil {
		return fmt.Errorf("unregister quiz: %w", err)
	}

	if err := s.kv.Del(ctx, sessionKeys(id)...); err != nil {
		return fmt.Errorf("delete quiz data: %w", err)
	}
	return nil
}

// parser accumulates the first decode error.
type parser struct {
	raw map[string]string
	err error
}

func (p *parser) floatField(field string) float64 {
	v, err := strconv.ParseFloat(p.raw[field], 64)
	p.keep(field, err)
	return v
}

func (p *parser) intField(field string) int {
	v, err := strconv.Atoi(p.raw[field])
	p.keep(field, err)
	return v
}

func (p *parser) int64Field(field string) int64 {
	v, err := strconv.ParseInt(p.raw[field], 10, 64)
	p.keep(field, err)
	return v
}

func (p *parser) boolField(field string) bool {
	v, err := strconv.ParseBool(p.raw[field])
	p.keep(field, err)
	return v
}

func (p *parser) keep(field string, err error) {
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
}
