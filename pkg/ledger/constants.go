package ledger

const (
	operationOpenAccount  = "open_account"
	operationSetBalance   = "set_balance"
	operationDeduct       = "deduct"
	operationLedgerChange = "ledger_change"
	operationAppend       = "append_history"
	operationClearHistory = "clear_history"

	operationStatusOK       = "ok"
	operationStatusRejected = "rejected"
	operationStatusError    = "error"

	// StartingBalance is granted to every account when it is opened.
	StartingBalance Credits = 100

	// TimestampLayout is the textual history timestamp format (local time).
	TimestampLayout = "02/01/2006 15:04:05"

	defaultMetadataJSON = "{}"
)

// Categories recorded by the credit and account services.
const (
	CategoryCreditTopup  Category = "Credit Topup"
	CategoryCreditUpdate Category = "Credit Update"
	CategoryUserActions  Category = "User Actions"
)
