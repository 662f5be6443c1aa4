package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/answerevaluator/internal/models"
	"google.golang.org/api/iterator"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// ExtractionRecords stores one ExtractionRecord per processed upload.
type ExtractionRecords struct {
	collection *firestore.CollectionRef
}

// NewExtractionRecords binds the record store to a collection.
func NewExtractionRecords(client *firestore.Client, collection string) *ExtractionRecords {
	return &ExtractionRecords{collection: client.Collection(collection)}
}

// FindExtracted returns the newest successfully extracted record for fileHash, or
// nil when the file has not been extracted before.
func (r *ExtractionRecords) FindExtracted(ctx context.Context, fileHash string) (*models.ExtractionRecord, error) {
	it := r.collection.
		Where("fileHash", "==", fileHash).
		Where("status", "==", models.RecordExtracted).
		Documents(ctx)
	defer it.Stop()

	var newest *models.ExtractionRecord
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query extraction records: %w", err)
		}
		var rec models.ExtractionRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode extraction record %s: %w", snap.Ref.ID, err)
		}
		if rec.TextGCSUri == "" {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = &rec
		}
	}
	return newest, nil
}

// Create adds a new record in the EXTRACTING state.
func (r *ExtractionRecords) Create(ctx context.Context, rec models.ExtractionRecord) (*firestore.DocumentRef, error) {
	rec.Status = models.RecordExtracting
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	docRef, _, err := r.collection.Add(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction record: %w", err)
	}
	return docRef, nil
}

// MarkExtracted records a successful extraction and where its text lives.
func (r *ExtractionRecords) MarkExtracted(ctx context.Context, docRef *firestore.DocumentRef, pageCount int, textURI string) error {
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "status", Value: models.RecordExtracted},
		{Path: "pageCount", Value: pageCount},
		{Path: "textGcsUri", Value: textURI},
	})
	return err
}

// MarkFailed records a failed extraction.
func (r *ExtractionRecords) MarkFailed(ctx context.Context, docRef *firestore.DocumentRef, errDetails string) error {
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "status", Value: models.RecordFailed},
		{Path: "errorDetails", Value: errDetails},
	})
	return err
}
