package models

import "time"

// GenerationStatus is the answer-generation lifecycle of a single question.
type GenerationStatus string

const (
	GenerationIdle      GenerationStatus = "idle"
	GenerationInFlight  GenerationStatus = "in_flight"
	GenerationSucceeded GenerationStatus = "succeeded"
	GenerationFailed    GenerationStatus = "failed"
)

// GenerationState is a target state for a store transition.
// Answer is only meaningful for GenerationSucceeded, Err only for GenerationFailed.
type GenerationState struct {
	Status GenerationStatus
	Answer string
	Err    error
}

// Idle, InFlight, Succeeded and Failed build the four generation states.
func Idle() GenerationState { return GenerationState{Status: GenerationIdle} }

func InFlight() GenerationState { return GenerationState{Status: GenerationInFlight} }

func Succeeded(answer string) GenerationState {
	return GenerationState{Status: GenerationSucceeded, Answer: answer}
}

func Failed(err error) GenerationState {
	return GenerationState{Status: GenerationFailed, Err: err}
}

// QuestionSeed is one question as returned by segmentation, before it enters the store.
type QuestionSeed struct {
	ID       string
	Prompt   string
	Weight   string
	Metadata map[string]string
}

// WorkItem is one segmented question and its answer-generation state.
type WorkItem struct {
	ID              string            `json:"id"`
	Position        int               `json:"position"`
	Prompt          string            `json:"prompt"`
	Weight          string            `json:"weight"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Status          GenerationStatus  `json:"status"`
	GeneratedAnswer string            `json:"generatedAnswer,omitempty"`
	Err             error             `json:"-"`
	Error           string            `json:"error,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable state with w.
func (w WorkItem) Clone() WorkItem {
	out := w
	if w.Metadata != nil {
		out.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
