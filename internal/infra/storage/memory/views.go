package memory

import (
	"context"
	"sync"

	domainanalytics "neighborhub/internal/domain/analytics"
)

// ViewStore keeps product views in memory.
type ViewStore struct {
	mu    sync.Mutex
	views []domainanalytics.ProductView
}

func NewViewStore() *ViewStore {
	return &ViewStore{}
}

func (s *ViewStore) StoreView(ctx context.Context, view domainanalytics.ProductView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, view)
	return nil
}

func (s *ViewStore) Views() []domainanalytics.ProductView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domainanalytics.ProductView(nil), s.views...)
}

var _ domainanalytics.Sink = (*ViewStore)(nil)
