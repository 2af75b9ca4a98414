package ledger

import "context"

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	// GalleryOnly keeps successful entries that carry a result reference.
	GalleryOnly bool
}

// Store is the persistence contract used by Service.
// Implementations must make every call inside WithTx part of one transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	LockAccount(ctx context.Context, accountID AccountID) (Account, error)
	FindAccountID(ctx context.Context, username Username) (AccountID, error)
	UpdateAccount(ctx context.Context, account Account) error
	InsertHistory(ctx context.Context, entry HistoryInput) (HistoryEntryID, error)
	ListHistory(ctx context.Context, accountID AccountID, filter HistoryFilter) ([]HistoryEntry, error)
	DeleteHistory(ctx context.Context, accountID AccountID) (int64, error)
}
