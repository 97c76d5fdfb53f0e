package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/fjord-microfinance/internal/model"
	"github.com/simonkvalheim/fjord-microfinance/internal/money"
)

// Limit caps the sum of same-type, same-direction postings within [From, To)
type Limit struct {
	Cap  money.Amount
	From time.Time
	To   time.Time
}

// PostRequest describes a single posting. Amount is positive; Direction
// gives the sign.
type PostRequest struct {
	AccountID      uuid.UUID
	Type           model.TransactionType
	Direction      model.Direction
	Amount         money.Amount
	Reference      string
	IdempotencyKey string
	ExchangeRate   *decimal.Decimal
	Metadata       map[string]any
	Limits         []Limit
	// Administrative postings are corrections and may touch Frozen accounts
	Administrative bool

	reversalOf *uuid.UUID
}

// Credit builds a credit posting
func Credit(accountID uuid.UUID, typ model.TransactionType, amount money.Amount) PostRequest {
	return PostRequest{AccountID: accountID, Type: typ, Direction: model.DirectionCredit, Amount: amount}
}

// Debit builds a debit posting
func Debit(accountID uuid.UUID, typ model.TransactionType, amount money.Amount) PostRequest {
	return PostRequest{AccountID: accountID, Type: typ, Direction: model.DirectionDebit, Amount: amount}
}

// Signed builds a posting from a signed amount using the type's sign
// convention: positive credits, negative debits.
func Signed(accountID uuid.UUID, typ model.TransactionType, signed money.Amount) PostRequest {
	if signed < 0 {
		return Debit(accountID, typ, -signed)
	}
	return Credit(accountID, typ, signed)
}

// WithKey sets the idempotency key
func (r PostRequest) WithKey(key string) PostRequest {
	r.IdempotencyKey = key
	return r
}

// WithReference sets the human-readable reference
func (r PostRequest) WithReference(ref string) PostRequest {
	r.Reference = ref
	return r
}

// WithMetadata merges metadata into the request
func (r PostRequest) WithMetadata(kv map[string]any) PostRequest {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		r.Metadata[k] = v
	}
	return r
}

type opKind int

const (
	opPost opKind = iota
	opBlock
	opUnblock
)

// Op is one step of a Batch
type Op struct {
	kind      opKind
	post      PostRequest
	accountID uuid.UUID
	amount    money.Amount
}

// PostOp wraps a posting
func PostOp(r PostRequest) Op {
	return Op{kind: opPost, post: r, accountID: r.AccountID}
}

// BlockOp reserves amount on an account
func BlockOp(accountID uuid.UUID, amount money.Amount) Op {
	return Op{kind: opBlock, accountID: accountID, amount: amount}
}

// UnblockOp releases a reservation
func UnblockOp(accountID uuid.UUID, amount money.Amount) Op {
	return Op{kind: opUnblock, accountID: accountID, amount: amount}
}

// AccountID returns the account the op touches
func (o Op) AccountID() uuid.UUID {
	return o.accountID
}

// Batch is an ordered list of ops applied all-or-nothing
type Batch []Op

// Accounts lists the accounts a batch touches
func (b Batch) Accounts() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(b))
	for _, op := range b {
		ids = append(ids, op.accountID)
	}
	return ids
}

// DailyWindow returns the calendar day containing now, in now's location
func DailyWindow(now time.Time) (time.Time, time.Time) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 0, 1)
}

// MonthlyWindow returns the calendar month containing now
func MonthlyWindow(now time.Time) (time.Time, time.Time) {
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 1, 0)
}

// AccountLimits derives the period limits configured on an account
func AccountLimits(a *model.Account, now time.Time) []Limit {
	var limits []Limit
	if a.DailyLimit != nil {
		from, to := DailyWindow(now)
		limits = append(limits, Limit{Cap: *a.DailyLimit, From: from, To: to})
	}
	if a.MonthlyLimit != nil {
		from, to := MonthlyWindow(now)
		limits = append(limits, Limit{Cap: *a.MonthlyLimit, From: from, To: to})
	}
	return limits
}
