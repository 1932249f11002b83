package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/premarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 << 20
	// auditBatch bounds how many audit rows one run reads.
	auditBatch = 50000
)

// AuditArchiveStore is the audit query the archiver needs.
type AuditArchiveStore interface {
	domain.AuditStore
	// ListBefore returns up to limit entries created before cutoff in id
	// order.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error)
}

// watermark records how far a kind has been archived. Every run exports
// records closed in [Cutoff of the previous run, new cutoff), so reruns never
// duplicate rows.
type watermark struct {
	Cutoff time.Time `json:"cutoff"`
	LastID int64     `json:"last_id,omitempty"`
	Count  int64     `json:"count"`
	Path   string    `json:"path"`
}

// Archiver implements domain.Archiver. Terminal offers and orders and audit
// rows are written as JSONL objects under archive/<kind>/, one object per
// run, and a _watermark.json per kind tracks progress. Nothing is deleted
// from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  domain.Reader
	audit  AuditArchiveStore
}

// NewArchiver creates an Archiver. audit may be nil, in which case
// ArchiveAudit is a no-op.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, store domain.Reader, audit AuditArchiveStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, store: store, audit: audit}
}

// ArchiveOrders exports orders that reached a terminal status before cutoff.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	return a.archive(ctx, "orders", before, func(ctx context.Context, wm watermark) ([]any, int64, error) {
		orders, err := a.store.ListOrders(ctx, domain.OrderFilter{ClosedBefore: &before})
		if err != nil {
			return nil, 0, err
		}
		var out []any
		for _, o := range orders {
			if o.SettledAt != nil && !o.SettledAt.Before(wm.Cutoff) {
				out = append(out, archivedOrder(o))
			}
		}
		return out, 0, nil
	})
}

// ArchiveOffers exports offers that were filled or cancelled before cutoff.
func (a *Archiver) ArchiveOffers(ctx context.Context, before time.Time) (int64, error) {
	return a.archive(ctx, "offers", before, func(ctx context.Context, wm watermark) ([]any, int64, error) {
		offers, err := a.store.ListOffers(ctx, domain.OfferFilter{ClosedBefore: &before})
		if err != nil {
			return nil, 0, err
		}
		var out []any
		for _, o := range offers {
			if o.ClosedAt != nil && !o.ClosedAt.Before(wm.Cutoff) {
				out = append(out, archivedOffer(o))
			}
		}
		return out, 0, nil
	})
}

// ArchiveAudit exports audit rows written before cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	if a.audit == nil {
		return 0, nil
	}
	return a.archive(ctx, "audit", before, func(ctx context.Context, wm watermark) ([]any, int64, error) {
		entries, err := a.audit.ListBefore(ctx, before, auditBatch)
		if err != nil {
			return nil, 0, err
		}
		var (
			out    []any
			lastID = wm.LastID
		)
		for _, e := range entries {
			if e.ID <= wm.LastID {
				continue
			}
			out = append(out, e)
			lastID = e.ID
		}
		return out, lastID, nil
	})
}

type collectFunc func(ctx context.Context, wm watermark) (records []any, lastID int64, err error)

func (a *Archiver) archive(ctx context.Context, kind string, before time.Time, collect collectFunc) (int64, error) {
	before = before.UTC()
	wm, err := a.loadWatermark(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s watermark: %w", kind, err)
	}
	if !before.After(wm.Cutoff) {
		return 0, nil
	}

	records, lastID, err := collect(ctx, wm)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}

	next := watermark{Cutoff: before, LastID: lastID, Count: int64(len(records))}
	if len(records) > 0 {
		path := archivePath(kind, before)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if !exists {
			buf, err := marshalJSONL(records)
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
			}
			if err := a.upload(ctx, path, buf); err != nil {
				return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
			}
		}
		next.Path = path
	}

	if err := a.storeWatermark(ctx, kind, next); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s watermark: %w", kind, err)
	}
	if a.audit != nil && len(records) > 0 {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   next.Path,
			"count":  next.Count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return next.Count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return next.Count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

func (a *Archiver) loadWatermark(ctx context.Context, kind string) (watermark, error) {
	body, err := a.reader.Get(ctx, watermarkPath(kind))
	if errors.Is(err, domain.ErrNotFound) {
		return watermark{}, nil
	}
	if err != nil {
		return watermark{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return watermark{}, err
	}
	var wm watermark
	if err := json.Unmarshal(data, &wm); err != nil {
		return watermark{}, err
	}
	return wm, nil
}

func (a *Archiver) storeWatermark(ctx context.Context, kind string, wm watermark) error {
	data, err := json.Marshal(wm)
	if err != nil {
		return err
	}
	return a.writer.Put(ctx, watermarkPath(kind), bytes.NewReader(data), "application/json")
}

// Archives lists the archive objects stored for kind.
func (a *Archiver) Archives(ctx context.Context, kind string) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, "archive/"+kind+"/")
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if info.Path != watermarkPath(kind) {
			out = append(out, info)
		}
	}
	return out, nil
}

// archivePath names the object for one run:
//
//	archive/orders/2026-03-08T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02T150405Z"))
}

func watermarkPath(kind string) string {
	return "archive/" + kind + "/_watermark.json"
}

// marshalJSONL encodes records as newline-delimited JSON.
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

// archiveOrder is the JSONL shape of an order. Amounts are decimal strings.
type archiveOrder struct {
	ID           uint64     `json:"id"`
	OfferID      uint64     `json:"offer_id"`
	AssetID      string     `json:"asset_id"`
	Amount       string     `json:"amount"`
	Value        string     `json:"value"`
	PaymentAsset string     `json:"payment_asset"`
	Buyer        string     `json:"buyer"`
	Seller       string     `json:"seller"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
}

func archivedOrder(o domain.Order) archiveOrder {
	return archiveOrder{
		ID:           o.ID,
		OfferID:      o.OfferID,
		AssetID:      o.AssetID.Hex(),
		Amount:       o.Amount.String(),
		Value:        o.Value.String(),
		PaymentAsset: o.PaymentAsset.String(),
		Buyer:        o.Buyer.Hex(),
		Seller:       o.Seller.Hex(),
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		SettledAt:    o.SettledAt,
	}
}

type archiveOffer struct {
	ID           uint64     `json:"id"`
	Kind         string     `json:"kind"`
	AssetID      string     `json:"asset_id"`
	Amount       string     `json:"amount"`
	Value        string     `json:"value"`
	PaymentAsset string     `json:"payment_asset"`
	Creator      string     `json:"creator"`
	Status       string     `json:"status"`
	FilledAmount string     `json:"filled_amount"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

func archivedOffer(o domain.Offer) archiveOffer {
	return archiveOffer{
		ID:           o.ID,
		Kind:         o.Kind.String(),
		AssetID:      o.AssetID.Hex(),
		Amount:       o.Amount.String(),
		Value:        o.Value.String(),
		PaymentAsset: o.PaymentAsset.String(),
		Creator:      o.Creator.Hex(),
		Status:       string(o.Status),
		FilledAmount: o.FilledAmount.String(),
		CreatedAt:    o.CreatedAt,
		ClosedAt:     o.ClosedAt,
	}
}

var _ domain.Archiver = (*Archiver)(nil)
