/*
store.go - Persistence interfaces for the mess engine

PURPOSE:
  Defines what the engine needs from storage. Two implementations
  exist: store/sqlite (production) and store/memory (tests/dev).

DESIGN:
  - Store is the flat operation set; every method is safe on its own.
  - TxStore adds WithTx, which hands the closure a Store whose
    operations all commit or roll back together. The engine does every
    read-modify-write (merge, credit accrual, conversion) inside one
    WithTx so balances and end dates never tear.
  - payments and credit_entries are append-only: no update or delete
    methods exist for them on purpose.

SEE ALSO:
  - ledger.go: The only caller of these interfaces
  - store/sqlite/sqlite.go, store/memory/memory.go: Implementations
*/
package ledger

import (
	"context"

	"github.com/tiffin/mess-engine/mess"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Store is the flat persistence surface for users, off-requests,
// payments, and the credit audit trail.
//
// Lookup methods return mess.ErrUserNotFound / mess.ErrOffNotFound for
// missing rows. CreateUser returns mess.ErrDuplicatePhone when the
// phone is taken, and SetChatID returns mess.ErrAlreadyLinked when the
// chat identity is bound elsewhere.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u mess.User) error
	GetUser(ctx context.Context, handle string) (*mess.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*mess.User, error)
	GetUserByChatID(ctx context.Context, chatID string) (*mess.User, error)
	ListUsers(ctx context.Context) ([]mess.User, error)
	// ListUsersWithCredits returns users whose balance is at least min.
	ListUsersWithCredits(ctx context.Context, min int) ([]mess.User, error)
	// Handles returns every handle starting with the given prefix.
	Handles(ctx context.Context, prefix string) ([]string, error)
	SetChatID(ctx context.Context, handle, chatID string) error
	SetSubscriptionEnd(ctx context.Context, handle string, end mess.Date) error
	SetCredits(ctx context.Context, handle string, balance int) error

	// Off requests (one active row per (user, date))
	InsertOff(ctx context.Context, o mess.OffRequest) (int64, error)
	GetOff(ctx context.Context, id int64) (*mess.OffRequest, error)
	GetOffForDate(ctx context.Context, handle string, date mess.Date) (*mess.OffRequest, error)
	DeleteOff(ctx context.Context, id int64) error
	ListOffs(ctx context.Context, handle string) ([]mess.OffRequest, error)
	ListOffsFrom(ctx context.Context, handle string, from mess.Date) ([]mess.OffRequest, error)
	ListOffsForDate(ctx context.Context, date mess.Date) ([]mess.OffRequest, error)

	// Payments (append-only)
	AppendPayment(ctx context.Context, p mess.Payment) (int64, error)
	ListPayments(ctx context.Context, handle string) ([]mess.Payment, error)

	// Credit audit trail (append-only)
	AppendCreditEntry(ctx context.Context, e mess.CreditEntry) error
	ListCreditEntries(ctx context.Context, handle string) ([]mess.CreditEntry, error)
}

// TxStore is a Store that can run a closure atomically.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional Store view. If fn
	// returns an error the transaction rolls back and the error is
	// returned unchanged.
	WithTx(ctx context.Context, fn func(Store) error) error
}
