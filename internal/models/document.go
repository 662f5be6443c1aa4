package models

import "time"

// DocumentKind identifies which of the two uploads a document is.
type DocumentKind string

const (
	KindQuestionPaper DocumentKind = "question_paper"
	KindAnswerScript  DocumentKind = "answer_script"
)

// Valid reports whether k is one of the known document kinds.
func (k DocumentKind) Valid() bool {
	return k == KindQuestionPaper || k == KindAnswerScript
}

// DocumentStatus tracks text extraction for one uploaded document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentExtracting DocumentStatus = "extracting"
	DocumentExtracted  DocumentStatus = "extracted"
	DocumentFailed     DocumentStatus = "failed"
)

// Upload is the raw file handed over by the caller for extraction.
type Upload struct {
	Kind        DocumentKind
	Filename    string
	ContentType string
	Data        []byte
}

// Document is the evaluator's view of one uploaded file and its extraction outcome.
type Document struct {
	Kind          DocumentKind   `json:"kind"`
	Filename      string         `json:"filename"`
	ContentType   string         `json:"contentType"`
	Status        DocumentStatus `json:"status"`
	ExtractedText string         `json:"extractedText,omitempty"`
	Error         string         `json:"error,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ExtractionRecord is the Firestore record kept by the extract-document function.
// It tracks the overall status of an extraction and where the text was stored.
type ExtractionRecord struct {
	FileHash         string    `firestore:"fileHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	DocType          string    `firestore:"docType,omitempty"`
	ContentType      string    `firestore:"contentType,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	TextGCSUri       string    `firestore:"textGcsUri,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}

// Extraction record statuses.
const (
	RecordExtracting = "EXTRACTING"
	RecordExtracted  = "EXTRACTED"
	RecordFailed     = "FAILED"
)
