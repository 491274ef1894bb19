package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/avelhart/tradehall/internal/domain"
)

// ListingArchiveStore is the narrow read interface the archiver needs: only
// the resolved-listing query, not the full listing store.
type ListingArchiveStore interface {
	ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]domain.Listing, error)
}

// BlobWriter uploads a single object. Satisfied by Writer.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver copies resolved listings older than a cutoff into monthly JSONL
// files in object storage. Deletion from the primary store is not performed
// here; the retention purge runs separately, after the archive upload has
// succeeded.
type Archiver struct {
	writer   BlobWriter
	listings ListingArchiveStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, listings ListingArchiveStore) *Archiver {
	return &Archiver{
		writer:   writer,
		listings: listings,
	}
}

// archivedListing is the JSONL record shape. The payload stays opaque and is
// carried base64-encoded, so an archived listing can be re-decoded by the same
// codec that wrote it.
type archivedListing struct {
	ID        int64     `json:"id"`
	SellerID  string    `json:"seller_id"`
	BuyerID   *string   `json:"buyer_id,omitempty"`
	Payload   []byte    `json:"payload"`
	Price     string    `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	EndsAt    time.Time `json:"ends_at"`
	Status    string    `json:"status"`
	Category  string    `json:"category,omitempty"`
}

// ArchiveListings queries resolved listings older than the cutoff, serializes
// them to JSONL, and uploads the batch to archive/listings/YYYY-MM.jsonl. It
// returns the number of listings archived.
func (a *Archiver) ArchiveListings(ctx context.Context, cutoff time.Time) (int64, error) {
	listings, err := a.listings.ListResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	if len(listings) == 0 {
		return 0, nil
	}

	records := make([]archivedListing, 0, len(listings))
	for _, l := range listings {
		records = append(records, archivedListing{
			ID:        l.ID,
			SellerID:  l.SellerID,
			BuyerID:   l.BuyerID,
			Payload:   l.Payload,
			Price:     l.Price.String(),
			CreatedAt: l.CreatedAt,
			EndsAt:    l.EndsAt,
			Status:    string(l.Status),
			Category:  l.Category,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings marshal: %w", err)
	}

	path := archivePath("listings", cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive listings upload: %w", err)
	}

	return int64(len(listings)), nil
}

// archivePath builds the object key for an archive batch, partitioned by the
// year-month of the cutoff:
//
//	archive/listings/2026-08.jsonl
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
