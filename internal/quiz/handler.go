package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lsat-prep/cat/internal/cat"
	"github.com/lsat-prep/cat/internal/irt"
	"github.com/lsat-prep/cat/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the quiz endpoints on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/quiz", h.CreateQuiz).Methods("POST")
	r.HandleFunc("/quiz/question", h.NextQuestion).Methods("GET", "POST")
	r.HandleFunc("/quiz/result", h.GetResult).Methods("GET", "POST")
	r.HandleFunc("/quiz", h.DeleteQuiz).Methods("DELETE")
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req models.QuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	cfg := h.service.Defaults()
	if req.MaxNumberOfQuestions != nil {
		cfg.MaxNumberOfQuestions = *req.MaxNumberOfQuestions
	}
	if req.MinMeasurementAccuracy != nil {
		cfg.MinMeasurementAccuracy = *req.MinMeasurementAccuracy
	}
	if req.InputProficiencyLevel != nil {
		cfg.InputProficiency = *req.InputProficiencyLevel
	}
	if req.QuestionSelector != nil {
		kind, err := cat.ParseSelectorKind(*req.QuestionSelector)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		cfg.Selector = kind
	}
	if req.CompetencyEstimator != nil {
		kind, err := cat.ParseEstimatorKind(*req.CompetencyEstimator)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		cfg.Estimator = kind
	}

	bank, err := itemsFromRequest(req.Questions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	sess, err := h.service.Create(r.Context(), cfg, bank)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.QuizResponse{
		QuizID:                 sess.ID,
		MaxNumberOfQuestions:   sess.Config.MaxNumberOfQuestions,
		MinMeasurementAccuracy: sess.Config.MinMeasurementAccuracy,
		InputProficiencyLevel:  sess.Config.InputProficiency,
		QuestionSelector:       string(sess.Config.Selector),
		CompetencyEstimator:    string(sess.Config.Estimator),
		Questions:              toQuestions(sess.Bank),
	})
}

func (h *Handler) NextQuestion(w http.ResponseWriter, r *http.Request) {
	var req models.AnswerRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	query := r.URL.Query()
	if req.QuizID == "" {
		req.QuizID = query.Get("quizId")
	}
	if req.QuizID == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "quizId is required"})
		return
	}
	if req.IsCorrect == nil && query.Get("isCorrect") != "" {
		v, err := strconv.ParseFloat(query.Get("isCorrect"), 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "isCorrect must be a number"})
			return
		}
		req.IsCorrect = &v
	}

	next, err := h.service.Next(r.Context(), req.QuizID, req.IsCorrect)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := models.NextQuestionResponse{
		QuizID:              next.SessionID,
		MeasurementAccuracy: accuracy(next.StandardError),
		CurrentCompetency:   next.Theta,
		QuizFinished:        next.Finished,
		StopReason:          string(next.StopReason),
	}
	if next.Item != nil {
		id := models.ItemID(next.Item.ID)
		resp.QuestionID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := quizID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Result(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ResultResponse{
		QuizID:                sess.ID,
		QuizFinished:          sess.Finished,
		CurrentCompetency:     sess.Theta,
		MeasurementAccuracy:   accuracy(sess.StandardError),
		MaxNumberOfQuestions:  sess.Config.MaxNumberOfQuestions,
		AdministeredQuestions: toQuestions(sess.AdministeredItems()),
		Responses:             append([]float64{}, sess.Responses...),
	})
}

func (h *Handler) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := quizID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.MessageResponse{
		Message: fmt.Sprintf("Quiz with id %s was successfully deleted!", id),
	})
}

// ── Helpers ─────────────────────────────────────────────

func itemsFromRequest(questions []models.QuestionRequest) ([]irt.Item, error) {
	bank := make([]irt.Item, len(questions))
	for i, q := range questions {
		if q.Difficulty == nil {
			return nil, fmt.Errorf("question %d: difficulty is required", i)
		}
		it := irt.NewItem(string(q.ID), *q.Difficulty)
		if q.Discrimination != nil {
			it.Discrimination = *q.Discrimination
		}
		if q.PseudoGuessing != nil {
			it.PseudoGuessing = *q.PseudoGuessing
		}
		if q.UpperAsymptote != nil {
			it.UpperAsymptote = *q.UpperAsymptote
		}
		bank[i] = it
	}
	return bank, nil
}

func toQuestions(items []irt.Item) []models.Question {
	out := make([]models.Question, len(items))
	for i, it := range items {
		out[i] = models.Question{
			ID:             models.ItemID(it.ID),
			Discrimination: it.Discrimination,
			Difficulty:     it.Difficulty,
			PseudoGuessing: it.PseudoGuessing,
			UpperAsymptote: it.UpperAsymptote,
		}
	}
	return out
}

// accuracy drops a standard error that is not measurable yet; JSON has no
// infinity.
func accuracy(se float64) *float64 {
	if !irt.Measurable(se) {
		return nil
	}
	return &se
}

// quizID reads quizId from the JSON body or, failing that, the query string.
func quizID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.QuizIDRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return "", false
	}
	if req.QuizID == "" {
		req.QuizID = r.URL.Query().Get("quizId")
	}
	if req.QuizID == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "quizId is required"})
		return "", false
	}
	return req.QuizID, true
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrExamFinished), errors.Is(err, ErrResultNotReady):
		writeJSON(w, http.StatusNotAcceptable, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrEmptyItemBank),
		errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrInvalidQuestion):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	default:
		log.Printf("[handler] quiz error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
