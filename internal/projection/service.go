package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/documents"
)

// Snapshot is the read-side view of one document: effective status
// plus whichever child aggregates apply to its kind.
type Snapshot struct {
	DocumentID    int64         `json:"document_id"`
	Kind          docflow.Kind  `json:"kind"`
	Status        docflow.State `json:"status"`
	InvoiceStatus ChildStatus   `json:"invoice_status,omitempty"`
	ReceiveStatus ChildStatus   `json:"receive_status,omitempty"`
	BillStatus    ChildStatus   `json:"bill_status,omitempty"`
	Balance       string        `json:"balance,omitempty"`
	ComputedAt    time.Time     `json:"computed_at"`
}

// Service computes snapshots on demand, caching them in Redis. The
// cache is an optimisation only: a nil client degrades to computing on
// every call.
type Service struct {
	repo   documents.RepositoryPort
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the projector service.
func NewService(repo documents.RepositoryPort, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{repo: repo, client: client, ttl: ttl, logger: logger, now: time.Now}
}

func cacheKey(documentID int64) string {
	return fmt.Sprintf("projection:doc:%d", documentID)
}

// Project returns the snapshot for one document, serving from cache
// when fresh. Concurrent requests for the same document share one
// computation.
func (s *Service) Project(ctx context.Context, documentID int64) (*Snapshot, error) {
	key := cacheKey(documentID)
	if snap, ok := s.fromCache(ctx, key); ok {
		return snap, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		snap, err := s.compute(ctx, documentID)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, snap)
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Invalidate drops cached snapshots for the given documents. Safe to
// call with a nil client and never fails the caller.
func (s *Service) Invalidate(ctx context.Context, documentIDs ...int64) {
	if s.client == nil || len(documentIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		keys = append(keys, cacheKey(id))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("projection invalidate", slog.Any("error", err))
	}
}

func (s *Service) compute(ctx context.Context, documentID int64) (*Snapshot, error) {
	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	snap := &Snapshot{
		DocumentID: doc.ID,
		Kind:       doc.Kind,
		Status:     EffectiveStatus(doc, now),
		ComputedAt: now,
	}
	if doc.Payable() {
		snap.Balance = doc.Balance().String()
	}

	switch doc.Kind {
	case docflow.KindSalesOrder:
		invoices, err := s.repo.ListChildren(ctx, doc.ID, docflow.KindInvoice)
		if err != nil {
			return nil, err
		}
		snap.InvoiceStatus = ProjectInvoiceStatus(doc, invoices)
	case docflow.KindPurchaseOrder:
		bills, err := s.repo.ListChildren(ctx, doc.ID, docflow.KindBill)
		if err != nil {
			return nil, err
		}
		snap.ReceiveStatus = ProjectReceiveStatus(doc, bills)
		snap.BillStatus = ProjectBillStatus(doc, bills)
	}
	return snap, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (*Snapshot, bool) {
	if s.client == nil {
		return nil, false
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("projection cache read", slog.Any("error", err))
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

func (s *Service) store(ctx context.Context, key string, snap *Snapshot) {
	if s.client == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("projection cache write", slog.Any("error", err))
	}
}
