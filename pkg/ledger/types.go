package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credits is an integer quantity of account credits.
type Credits int64

// AccountID identifies an account owner. It is opaque to the ledger.
type AccountID struct {
	value string
}

// Username is the unique human handle used by administrative tooling.
type Username struct {
	value string
}

// HistoryEntryID identifies a stored history row.
type HistoryEntryID struct {
	value int64
}

// Category tags a history entry (e.g. "Credit Topup").
type Category string

// HistoryStatus records the outcome of a history entry.
type HistoryStatus string

const (
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusFailed  HistoryStatus = "failed"
)

// ResultRef locates an artifact produced by an action.
type ResultRef struct {
	value string
}

// MetadataJSON stores a structured audit payload.
type MetadataJSON struct {
	value string
}

// NewCredits validates a non-negative credit quantity.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must be zero or greater", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// NewPositiveCredits validates a strictly positive credit quantity.
func NewPositiveCredits(raw int64) (Credits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 exposes the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewUsername validates and normalizes a username.
func NewUsername(raw string) (Username, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Username{}, fmt.Errorf("%w: empty value", ErrInvalidUsername)
	}
	return Username{value: trimmed}, nil
}

// String returns the normalized username.
func (username Username) String() string {
	return username.value
}

// NewHistoryEntryID validates a stored row id.
func NewHistoryEntryID(raw int64) (HistoryEntryID, error) {
	if raw <= 0 {
		return HistoryEntryID{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidHistoryEntryID)
	}
	return HistoryEntryID{value: raw}, nil
}

// Int64 exposes the raw row id.
func (id HistoryEntryID) Int64() int64 {
	return id.value
}

// NewCategory validates a history category.
func NewCategory(raw string) (Category, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidCategory)
	}
	return Category(trimmed), nil
}

// String returns the category text.
func (category Category) String() string {
	return string(category)
}

// ParseHistoryStatus validates a stored status value.
func ParseHistoryStatus(raw string) (HistoryStatus, error) {
	switch HistoryStatus(strings.TrimSpace(raw)) {
	case HistoryStatusSuccess:
		return HistoryStatusSuccess, nil
	case HistoryStatusFailed:
		return HistoryStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidHistoryStatus, raw)
	}
}

// String returns the status text.
func (status HistoryStatus) String() string {
	return string(status)
}

// NewResultRef validates an artifact locator.
func NewResultRef(raw string) (ResultRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ResultRef{}, fmt.Errorf("%w: empty value", ErrInvalidResultRef)
	}
	return ResultRef{value: trimmed}, nil
}

// String returns the locator.
func (ref ResultRef) String() string {
	return ref.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = defaultMetadataJSON
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MetadataFromFields encodes a flat set of audit fields.
func MetadataFromFields(fields map[string]any) (MetadataJSON, error) {
	if len(fields) == 0 {
		return MetadataJSON{value: defaultMetadataJSON}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return MetadataJSON{value: string(raw)}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return defaultMetadataJSON
	}
	return metadata.value
}

// FormatTimestamp renders a history time in the fixed local textual format.
func FormatTimestamp(at time.Time) string {
	return at.Local().Format(TimestampLayout)
}

// HistoryInput is a validated, not yet stored, history entry.
type HistoryInput struct {
	accountID  AccountID
	category   Category
	task       string
	detail     string
	status     HistoryStatus
	occurredAt time.Time
	resultRef  *ResultRef
	metadata   MetadataJSON
}

// NewHistoryInput validates a history entry before it is appended.
func NewHistoryInput(accountID AccountID, category Category, task string, detail string, status HistoryStatus, occurredAt time.Time, resultRef *ResultRef, metadata MetadataJSON) (HistoryInput, error) {
	if accountID.IsZero() {
		return HistoryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := NewCategory(category.String()); err != nil {
		return HistoryInput{}, err
	}
	if _, err := ParseHistoryStatus(status.String()); err != nil {
		return HistoryInput{}, err
	}
	if occurredAt.IsZero() {
		return HistoryInput{}, fmt.Errorf("%w: zero time", ErrInvalidOccurredAt)
	}
	var storedRef *ResultRef
	if resultRef != nil {
		if _, err := NewResultRef(resultRef.String()); err != nil {
			return HistoryInput{}, err
		}
		refCopy := *resultRef
		storedRef = &refCopy
	}
	return HistoryInput{
		accountID:  accountID,
		category:   category,
		task:       task,
		detail:     detail,
		status:     status,
		occurredAt: occurredAt.Truncate(time.Second),
		resultRef:  storedRef,
		metadata:   metadata,
	}, nil
}

// AccountID returns the owning account.
func (input HistoryInput) AccountID() AccountID {
	return input.accountID
}

// Category returns the category tag.
func (input HistoryInput) Category() Category {
	return input.category
}

// Task returns the short task label.
func (input HistoryInput) Task() string {
	return input.task
}

// Detail returns the human-readable detail text.
func (input HistoryInput) Detail() string {
	return input.detail
}

// Status returns the outcome.
func (input HistoryInput) Status() HistoryStatus {
	return input.status
}

// OccurredAt returns the event time truncated to seconds.
func (input HistoryInput) OccurredAt() time.Time {
	return input.occurredAt
}

// MetadataJSON returns the structured audit payload.
func (input HistoryInput) MetadataJSON() MetadataJSON {
	return input.metadata
}

// ResultRef returns the artifact locator when one was recorded.
func (input HistoryInput) ResultRef() (ResultRef, bool) {
	if input.resultRef == nil {
		return ResultRef{}, false
	}
	return *input.resultRef, true
}

// Timestamp renders OccurredAt in the history text format.
func (input HistoryInput) Timestamp() string {
	return FormatTimestamp(input.occurredAt)
}

// HistoryEntry is an immutable stored history row.
type HistoryEntry struct {
	HistoryInput
	entryID HistoryEntryID
}

// NewHistoryEntry binds a stored row id to its validated content.
func NewHistoryEntry(entryID HistoryEntryID, input HistoryInput) (HistoryEntry, error) {
	if entryID.Int64() <= 0 {
		return HistoryEntry{}, fmt.Errorf("%w: missing", ErrInvalidHistoryEntryID)
	}
	if input.accountID.IsZero() {
		return HistoryEntry{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return HistoryEntry{HistoryInput: input, entryID: entryID}, nil
}

// EntryID returns the stored row id.
func (entry HistoryEntry) EntryID() HistoryEntryID {
	return entry.entryID
}

// Account is the per-user ledger row: balance plus lifetime counters.
type Account struct {
	ID                AccountID
	Username          Username
	Balance           Credits
	StartingBalance   Credits
	LifetimeAdded     Credits
	LifetimeUsed      Credits
	Generations       int64
	LastCreditAddedAt time.Time
	LastCreditUsedAt  time.Time
	CreatedAt         time.Time
}

// NewAccount opens an account holding the starting grant.
func NewAccount(id AccountID, username Username, openedAt time.Time) (Account, error) {
	if id.IsZero() {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if username.String() == "" {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidUsername)
	}
	return Account{
		ID:              id,
		Username:        username,
		Balance:         StartingBalance,
		StartingBalance: StartingBalance,
		CreatedAt:       openedAt,
	}, nil
}

// WithBalance overwrites the balance and moves the delta into the matching
// lifetime counter. A zero delta counts as usage, as it always has.
func (account Account) WithBalance(newBalance Credits, at time.Time) Account {
	delta := newBalance - account.Balance
	account.Balance = newBalance
	if delta > 0 {
		account.LifetimeAdded += delta
		account.LastCreditAddedAt = at
		return account
	}
	account.LifetimeUsed += -delta
	account.LastCreditUsedAt = at
	return account
}

// Reconciles reports whether the balance matches the starting grant plus counters.
func (account Account) Reconciles() bool {
	return account.Balance == account.StartingBalance+account.LifetimeAdded-account.LifetimeUsed
}

// LedgerChange is one balance movement with the history row that audits it.
type LedgerChange struct {
	Delta            Credits
	GenerationsDelta int64
	History          HistoryInput
}
