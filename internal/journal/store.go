package journal

import "context"

// Store is the persistence interface for the journal. List methods return
// newest first.
type Store interface {
	PutRefresh(ctx context.Context, r *RefreshRecord) error
	ListRefreshes(ctx context.Context, limit int) ([]RefreshRecord, error)
	PutAck(ctx context.Context, a *AckRecord) error
	ListAcks(ctx context.Context, limit int) ([]AckRecord, error)
}
