package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// These structs define the JSON payloads exchanged between the evaluator and the
// extract-document, extract-questions and generate-answer functions.

// ExtractDocumentResponse is the output of the extract-document function.
type ExtractDocumentResponse struct {
	Filename      string `json:"filename"`
	DocType       string `json:"doc_type"`
	ExtractedText string `json:"extracted_text"`
	Status        string `json:"status"`
}

// ExtractQuestionsRequest is the input for the extract-questions function.
type ExtractQuestionsRequest struct {
	Text string `json:"text"`
}

// ExtractQuestionsResponse is the output of the extract-questions function.
type ExtractQuestionsResponse struct {
	Questions []Question `json:"questions"`
}

// Question is one segmented question on the wire. CO and BL are the course outcome
// and Bloom's level tags.
type Question struct {
	ID       FlexString `json:"id"`
	Question string     `json:"question"`
	Marks    FlexString `json:"marks"`
	CO       string     `json:"co"`
	BL       string     `json:"bl"`
}

// Seed converts a wire question into a store seed.
func (q Question) Seed() QuestionSeed {
	meta := make(map[string]string, 2)
	if q.CO != "" {
		meta["co"] = q.CO
	}
	if q.BL != "" {
		meta["bl"] = q.BL
	}
	return QuestionSeed{
		ID:       string(q.ID),
		Prompt:   q.Question,
		Weight:   string(q.Marks),
		Metadata: meta,
	}
}

// GenerateAnswerRequest is the input for the generate-answer function.
type GenerateAnswerRequest struct {
	Text  string `json:"text"`
	Marks string `json:"marks"`
}

// GenerateAnswerResponse is the output of the generate-answer function.
type GenerateAnswerResponse struct {
	IdealAnswer string `json:"ideal_answer"`
}

// ErrorResponse is the body written by the functions on a non-success status.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// FlexString decodes a JSON string, number or null into a string. Model output is
// not consistent about quoting ids and marks.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("flex string: unsupported value %s", data)
		}
		*s = FlexString(n.String())
		return nil
	}
}
