package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ItemID is a question identifier supplied by the client. It may arrive as a
// JSON number or string; numeric ids are written back as numbers.
type ItemID string

func (id *ItemID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("question id must be a number or string: %w", err)
	}
	*id = ItemID(n)
	return nil
}

func (id ItemID) MarshalJSON() ([]byte, error) {
	s := string(id)
	if _, err := strconv.ParseFloat(s, 64); err == nil && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// QuestionRequest is a question in a create request. Omitted parameters
// take the model defaults.
type QuestionRequest struct {
	ID             ItemID   `json:"id"`
	Discrimination *float64 `json:"discrimination,omitempty"`
	Difficulty     *float64 `json:"difficulty"`
	PseudoGuessing *float64 `json:"pseudoGuessing,omitempty"`
	UpperAsymptote *float64 `json:"upperAsymptote,omitempty"`
}

type Question struct {
	ID             ItemID  `json:"id"`
	Discrimination float64 `json:"discrimination"`
	Difficulty     float64 `json:"difficulty"`
	PseudoGuessing float64 `json:"pseudoGuessing"`
	UpperAsymptote float64 `json:"upperAsymptote"`
}

type QuizRequest struct {
	MaxNumberOfQuestions   *int              `json:"maxNumberOfQuestions,omitempty"`
	MinMeasurementAccuracy *float64          `json:"minMeasurementAccuracy,omitempty"`
	InputProficiencyLevel  *float64          `json:"inputProficiencyLevel,omitempty"`
	QuestionSelector       *string           `json:"questionSelector,omitempty"`
	CompetencyEstimator    *string           `json:"competencyEstimator,omitempty"`
	Questions              []QuestionRequest `json:"questions"`
}

// QuizResponse echoes the resolved configuration of a new quiz.
type QuizResponse struct {
	QuizID                 string     `json:"quizId"`
	MaxNumberOfQuestions   int        `json:"maxNumberOfQuestions"`
	MinMeasurementAccuracy float64    `json:"minMeasurementAccuracy"`
	InputProficiencyLevel  float64    `json:"inputProficiencyLevel"`
	QuestionSelector       string     `json:"questionSelector"`
	CompetencyEstimator    string     `json:"competencyEstimator"`
	Questions              []Question `json:"questions"`
}

type AnswerRequest struct {
	QuizID    string   `json:"quizId"`
	IsCorrect *float64 `json:"isCorrect,omitempty"`
}

// NextQuestionResponse carries the next question, or none once the quiz is
// finished. MeasurementAccuracy is null until the ability is measurable.
type NextQuestionResponse struct {
	QuizID              string   `json:"quizId"`
	QuestionID          *ItemID  `json:"questionId"`
	MeasurementAccuracy *float64 `json:"measurementAccuracy"`
	CurrentCompetency   float64  `json:"currentCompetency"`
	QuizFinished        bool     `json:"quizFinished"`
	StopReason          string   `json:"stopReason,omitempty"`
}

type ResultResponse struct {
	QuizID                string     `json:"quizId"`
	QuizFinished          bool       `json:"quizFinished"`
	CurrentCompetency     float64    `json:"currentCompetency"`
	MeasurementAccuracy   *float64   `json:"measurementAccuracy"`
	MaxNumberOfQuestions  int        `json:"maxNumberOfQuestions"`
	AdministeredQuestions []Question `json:"administeredQuestions"`
	Responses             []float64  `json:"responses"`
}

type QuizIDRequest struct {
	QuizID string `json:"quizId"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
