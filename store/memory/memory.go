// Package memory provides an in-memory Store implementation (for
// testing/dev). WithTx is simulated with a snapshot that is restored
// when the closure fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tiffin/mess-engine/ledger"
	"github.com/tiffin/mess-engine/mess"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.Mutex

	users   map[string]mess.User // by handle
	offs    map[int64]mess.OffRequest
	nextOff int64

	payments    []mess.Payment
	nextPayment int64

	entries   []mess.CreditEntry
	nextEntry int64
}

var _ ledger.TxStore = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		users:       make(map[string]mess.User),
		offs:        make(map[int64]mess.OffRequest),
		nextOff:     1,
		nextPayment: 1,
		nextEntry:   1,
	}
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u mess.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(u)
}

func (m *Memory) createUserLocked(u mess.User) error {
	if _, ok := m.users[u.Handle]; ok {
		return fmt.Errorf("handle taken: %s", u.Handle)
	}
	for _, other := range m.users {
		if other.Phone == u.Phone {
			return fmt.Errorf("%w: %s", mess.ErrDuplicatePhone, u.Phone)
		}
		if u.ChatID != "" && other.ChatID == u.ChatID {
			return fmt.Errorf("%w: %s", mess.ErrAlreadyLinked, u.ChatID)
		}
	}
	m.users[u.Handle] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, handle string) (*mess.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getUserLocked(handle)
}

func (m *Memory) getUserLocked(handle string) (*mess.User, error) {
	u, ok := m.users[handle]
	if !ok {
		return nil, fmt.Errorf("%w: handle=%s", mess.ErrUserNotFound, handle)
	}
	return &u, nil
}

func (m *Memory) GetUserByPhone(_ context.Context, phone string) (*mess.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: phone=%s", mess.ErrUserNotFound, phone)
}

func (m *Memory) GetUserByChatID(_ context.Context, chatID string) (*mess.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ChatID != "" && u.ChatID == chatID {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: chat_id=%s", mess.ErrUserNotFound, chatID)
}

func (m *Memory) ListUsers(_ context.Context) ([]mess.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listUsersLocked(func(mess.User) bool { return true }), nil
}

func (m *Memory) ListUsersWithCredits(_ context.Context, min int) ([]mess.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listUsersLocked(func(u mess.User) bool { return u.MealCredits >= min }), nil
}

func (m *Memory) listUsersLocked(keep func(mess.User) bool) []mess.User {
	var out []mess.User
	for _, u := range m.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (m *Memory) Handles(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for h := range m.users {
		if strings.HasPrefix(h, prefix) {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SetChatID(_ context.Context, handle, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.getUserLocked(handle)
	if err != nil {
		return err
	}
	if chatID != "" {
		for _, other := range m.users {
			if other.Handle != handle && other.ChatID == chatID {
				return fmt.Errorf("%w: %s", mess.ErrAlreadyLinked, chatID)
			}
		}
	}
	u.ChatID = chatID
	m.users[handle] = *u
	return nil
}

func (m *Memory) SetSubscriptionEnd(_ context.Context, handle string, end mess.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.getUserLocked(handle)
	if err != nil {
		return err
	}
	u.SubEnd = &end
	m.users[handle] = *u
	return nil
}

func (m *Memory) SetCredits(_ context.Context, handle string, balance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.getUserLocked(handle)
	if err != nil {
		return err
	}
	u.MealCredits = balance
	m.users[handle] = *u
	return nil
}

// =============================================================================
// OFF REQUESTS
// =============================================================================

func (m *Memory) InsertOff(_ context.Context, o mess.OffRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertOffLocked(o)
}

func (m *Memory) insertOffLocked(o mess.OffRequest) (int64, error) {
	for _, existing := range m.offs {
		if existing.UserHandle == o.UserHandle && existing.Date.Equal(o.Date) {
			return 0, fmt.Errorf("%w: %s on %s", mess.ErrAlreadyOff, o.UserHandle, o.Date)
		}
	}
	o.ID = m.nextOff
	m.nextOff++
	m.offs[o.ID] = o
	return o.ID, nil
}

func (m *Memory) GetOff(_ context.Context, id int64) (*mess.OffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", mess.ErrOffNotFound, id)
	}
	return &o, nil
}

func (m *Memory) GetOffForDate(_ context.Context, handle string, date mess.Date) (*mess.OffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offs {
		if o.UserHandle == handle && o.Date.Equal(date) {
			o := o
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", mess.ErrOffNotFound, handle, date)
}

func (m *Memory) DeleteOff(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offs[id]; !ok {
		return fmt.Errorf("%w: id=%d", mess.ErrOffNotFound, id)
	}
	delete(m.offs, id)
	return nil
}

func (m *Memory) ListOffs(_ context.Context, handle string) ([]mess.OffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listOffsLocked(func(o mess.OffRequest) bool { return o.UserHandle == handle }), nil
}

func (m *Memory) ListOffsFrom(_ context.Context, handle string, from mess.Date) ([]mess.OffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listOffsLocked(func(o mess.OffRequest) bool {
		return o.UserHandle == handle && !o.Date.Before(from)
	}), nil
}

func (m *Memory) ListOffsForDate(_ context.Context, date mess.Date) ([]mess.OffRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offs := m.listOffsLocked(func(o mess.OffRequest) bool { return o.Date.Equal(date) })
	sort.Slice(offs, func(i, j int) bool { return offs[i].UserHandle < offs[j].UserHandle })
	return offs, nil
}

func (m *Memory) listOffsLocked(keep func(mess.OffRequest) bool) []mess.OffRequest {
	var out []mess.OffRequest
	for _, o := range m.offs {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// =============================================================================
// PAYMENTS AND CREDIT ENTRIES (append-only)
// =============================================================================

func (m *Memory) AppendPayment(_ context.Context, p mess.Payment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextPayment
	m.nextPayment++
	m.payments = append(m.payments, p)
	return p.ID, nil
}

func (m *Memory) ListPayments(_ context.Context, handle string) ([]mess.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mess.Payment
	for _, p := range m.payments {
		if p.UserHandle == handle {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) AppendCreditEntry(_ context.Context, e mess.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextEntry
	m.nextEntry++
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) ListCreditEntries(_ context.Context, handle string) ([]mess.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mess.CreditEntry
	for _, e := range m.entries {
		if e.UserHandle == handle {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a simulated transaction: state is
// snapshotted up front and restored if fn fails. The outer mutex
// serializes transactions; fn receives a view whose operations bypass
// that mutex.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users       map[string]mess.User
	offs        map[int64]mess.OffRequest
	nextOff     int64
	payments    []mess.Payment
	nextPayment int64
	entries     []mess.CreditEntry
	nextEntry   int64
}

func (m *Memory) snapshot() snapshot {
	users := make(map[string]mess.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	offs := make(map[int64]mess.OffRequest, len(m.offs))
	for k, v := range m.offs {
		offs[k] = v
	}
	return snapshot{
		users:       users,
		offs:        offs,
		nextOff:     m.nextOff,
		payments:    append([]mess.Payment{}, m.payments...),
		nextPayment: m.nextPayment,
		entries:     append([]mess.CreditEntry{}, m.entries...),
		nextEntry:   m.nextEntry,
	}
}

func (m *Memory) restore(s snapshot) {
	m.users = s.users
	m.offs = s.offs
	m.nextOff = s.nextOff
	m.payments = s.payments
	m.nextPayment = s.nextPayment
	m.entries = s.entries
	m.nextEntry = s.nextEntry
}

// txView reuses the parent's logic without its mutex (held by WithTx).
type txView struct {
	parent *Memory
}

var _ ledger.Store = (*txView)(nil)

func (tv *txView) CreateUser(_ context.Context, u mess.User) error {
	return tv.parent.createUserLocked(u)
}

func (tv *txView) GetUser(_ context.Context, handle string) (*mess.User, error) {
	return tv.parent.getUserLocked(handle)
}

func (tv *txView) GetUserByPhone(_ context.Context, phone string) (*mess.User, error) {
	for _, u := range tv.parent.users {
		if u.Phone == phone {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: phone=%s", mess.ErrUserNotFound, phone)
}

func (tv *txView) GetUserByChatID(_ context.Context, chatID string) (*mess.User, error) {
	for _, u := range tv.parent.users {
		if u.ChatID != "" && u.ChatID == chatID {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: chat_id=%s", mess.ErrUserNotFound, chatID)
}

func (tv *txView) ListUsers(_ context.Context) ([]mess.User, error) {
	return tv.parent.listUsersLocked(func(mess.User) bool { return true }), nil
}

func (tv *txView) ListUsersWithCredits(_ context.Context, min int) ([]mess.User, error) {
	return tv.parent.listUsersLocked(func(u mess.User) bool { return u.MealCredits >= min }), nil
}

func (tv *txView) Handles(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for h := range tv.parent.users {
		if strings.HasPrefix(h, prefix) {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (tv *txView) SetChatID(_ context.Context, handle, chatID string) error {
	u, err := tv.parent.getUserLocked(handle)
	if err != nil {
		return err
	}
	if chatID != "" {
		for _, other := range tv.parent.users {
			if other.Handle != handle && other.ChatID == chatID {
				return fmt.Errorf("%w: %s", mess.ErrAlreadyLinked, chatID)
			}
		}
	}
	u.ChatID = chatID
	tv.parent.users[handle] = *u
	return nil
}

func (tv *txView) SetSubscriptionEnd(_ context.Context, handle string, end mess.Date) error {
	u, err := tv.parent.getUserLocked(handle)
	if err != nil {
		return err
	}
	u.SubEnd = &end
	tv.parent.users[handle] = *u
	return nil
}

func (tv *txView) SetCredits(_ context.Context, handle string, balance int) error {
	u, err := tv.parent.getUserLocked(handle)
	if err != nil {
		return err
	}
	u.MealCredits = balance
	tv.parent.users[handle] = *u
	return nil
}

func (tv *txView) InsertOff(_ context.Context, o mess.OffRequest) (int64, error) {
	return tv.parent.insertOffLocked(o)
}

func (tv *txView) GetOff(_ context.Context, id int64) (*mess.OffRequest, error) {
	o, ok := tv.parent.offs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", mess.ErrOffNotFound, id)
	}
	return &o, nil
}

func (tv *txView) GetOffForDate(_ context.Context, handle string, date mess.Date) (*mess.OffRequest, error) {
	for _, o := range tv.parent.offs {
		if o.UserHandle == handle && o.Date.Equal(date) {
			o := o
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", mess.ErrOffNotFound, handle, date)
}

func (tv *txView) DeleteOff(_ context.Context, id int64) error {
	if _, ok := tv.parent.offs[id]; !ok {
		return fmt.Errorf("%w: id=%d", mess.ErrOffNotFound, id)
	}
	delete(tv.parent.offs, id)
	return nil
}

func (tv *txView) ListOffs(_ context.Context, handle string) ([]mess.OffRequest, error) {
	return tv.parent.listOffsLocked(func(o mess.OffRequest) bool { return o.UserHandle == handle }), nil
}

func (tv *txView) ListOffsFrom(_ context.Context, handle string, from mess.Date) ([]mess.OffRequest, error) {
	return tv.parent.listOffsLocked(func(o mess.OffRequest) bool {
		return o.UserHandle == handle && !o.Date.Before(from)
	}), nil
}

func (tv *txView) ListOffsForDate(_ context.Context, date mess.Date) ([]mess.OffRequest, error) {
	return tv.parent.listOffsLocked(func(o mess.OffRequest) bool { return o.Date.Equal(date) }), nil
}

func (tv *txView) AppendPayment(_ context.Context, p mess.Payment) (int64, error) {
	p.ID = tv.parent.nextPayment
	tv.parent.nextPayment++
	tv.parent.payments = append(tv.parent.payments, p)
	return p.ID, nil
}

func (tv *txView) ListPayments(_ context.Context, handle string) ([]mess.Payment, error) {
	var out []mess.Payment
	for _, p := range tv.parent.payments {
		if p.UserHandle == handle {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tv *txView) AppendCreditEntry(_ context.Context, e mess.CreditEntry) error {
	e.ID = tv.parent.nextEntry
	tv.parent.nextEntry++
	tv.parent.entries = append(tv.parent.entries, e)
	return nil
}

func (tv *txView) ListCreditEntries(_ context.Context, handle string) ([]mess.CreditEntry, error) {
	var out []mess.CreditEntry
	for _, e := range tv.parent.entries {
		if e.UserHandle == handle {
			out = append(out, e)
		}
	}
	return out, nil
}
