package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists the configured market universe so ops tooling can
// inspect what a scanner instance was trading against.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// OpportunityStore persists qualified opportunity history. Writes go
// through InsertBatch; the sink drains its queue in batches.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, opps []Opportunity) error
	GetByID(ctx context.Context, id string) (Opportunity, error)
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListByAsset(ctx context.Context, asset Asset, opts ListOpts) ([]Opportunity, error)
}
