/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore over database/sql with the
  mattn/go-sqlite3 driver. Use ":memory:" for tests.

APPEND-ONLY ENFORCEMENT:
  payments and credit_entries have INSERT and SELECT paths only; no
  UPDATE or DELETE statements exist for them.

KEY CONSTRAINTS (last line of defense; the engine checks first):
  users.phone UNIQUE              -> mess.ErrDuplicatePhone
  users.chat_id UNIQUE            -> mess.ErrAlreadyLinked
  off_requests(user_handle, date) -> mess.ErrAlreadyOff
  users.meal_credits CHECK >= 0

CONCURRENCY:
  A mutex serializes writers; WithTx holds it for the whole closure and
  routes every operation through the same sql.Tx, so read-modify-write
  sequences in the engine never interleave.

WAL MODE:
  Opened with _journal_mode=WAL and _foreign_keys=on.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tiffin/mess-engine/ledger"
	"github.com/tiffin/mess-engine/mess"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ ledger.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		handle TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL UNIQUE,
		chat_id TEXT UNIQUE,
		sub_start TEXT,
		sub_end TEXT,
		meal_credits INTEGER NOT NULL DEFAULT 0 CHECK (meal_credits >= 0)
	);

	-- One active off row per (user, day); upgrades replace the row.
	CREATE TABLE IF NOT EXISTS off_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_handle TEXT NOT NULL REFERENCES users(handle),
		date TEXT NOT NULL,
		meal TEXT NOT NULL,
		UNIQUE(user_handle, date)
	);

	CREATE INDEX IF NOT EXISTS idx_off_requests_date
		ON off_requests(date);

	-- Append-only grant log (manual payments and conversions).
	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_handle TEXT NOT NULL REFERENCES users(handle),
		payment_date TEXT NOT NULL,
		days_added INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_user
		ON payments(user_handle);

	-- Append-only audit of every balance mutation.
	CREATE TABLE IF NOT EXISTS credit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_handle TEXT NOT NULL REFERENCES users(handle),
		delta INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		reference TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_entries_user
		ON credit_entries(user_handle);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need, so every
// statement can run either standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = "handle, name, phone, chat_id, sub_start, sub_end, meal_credits"

func (s *Store) CreateUser(ctx context.Context, u mess.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createUser(ctx, s.db, u)
}

func createUser(ctx context.Context, db dbtx, u mess.User) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (handle, name, phone, chat_id, sub_start, sub_end, meal_credits)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Handle, u.Name, u.Phone,
		nullString(u.ChatID), nullDate(u.SubStart), nullDate(u.SubEnd),
		u.MealCredits,
	)
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, handle string) (*mess.User, error) {
	return getUserBy(ctx, s.db, "handle", handle)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*mess.User, error) {
	return getUserBy(ctx, s.db, "phone", phone)
}

func (s *Store) GetUserByChatID(ctx context.Context, chatID string) (*mess.User, error) {
	return getUserBy(ctx, s.db, "chat_id", chatID)
}

func getUserBy(ctx context.Context, db dbtx, column, value string) (*mess.User, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s=%s", mess.ErrUserNotFound, column, value)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]mess.User, error) {
	return queryUsers(ctx, s.db,
		"SELECT "+userColumns+" FROM users ORDER BY handle")
}

func (s *Store) ListUsersWithCredits(ctx context.Context, min int) ([]mess.User, error) {
	return queryUsers(ctx, s.db,
		"SELECT "+userColumns+" FROM users WHERE meal_credits >= ? ORDER BY handle", min)
}

func (s *Store) Handles(ctx context.Context, prefix string) ([]string, error) {
	return handles(ctx, s.db, prefix)
}

func handles(ctx context.Context, db dbtx, prefix string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT handle FROM users WHERE handle LIKE ? ESCAPE '\\'",
		likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// likePrefix escapes LIKE metacharacters so a handle prefix matches
// literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func (s *Store) SetChatID(ctx context.Context, handle, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setChatID(ctx, s.db, handle, chatID)
}

func setChatID(ctx context.Context, db dbtx, handle, chatID string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE users SET chat_id = ? WHERE handle = ?", nullString(chatID), handle)
	if err != nil {
		return mapConstraintError(err)
	}
	return requireRow(res, mess.ErrUserNotFound, handle)
}

func (s *Store) SetSubscriptionEnd(ctx context.Context, handle string, end mess.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setSubscriptionEnd(ctx, s.db, handle, end)
}

func setSubscriptionEnd(ctx context.Context, db dbtx, handle string, end mess.Date) error {
	res, err := db.ExecContext(ctx,
		"UPDATE users SET sub_end = ? WHERE handle = ?", end.String(), handle)
	if err != nil {
		return err
	}
	return requireRow(res, mess.ErrUserNotFound, handle)
}

func (s *Store) SetCredits(ctx context.Context, handle string, balance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setCredits(ctx, s.db, handle, balance)
}

func setCredits(ctx context.Context, db dbtx, handle string, balance int) error {
	res, err := db.ExecContext(ctx,
		"UPDATE users SET meal_credits = ? WHERE handle = ?", balance, handle)
	if err != nil {
		return err
	}
	return requireRow(res, mess.ErrUserNotFound, handle)
}

// =============================================================================
// OFF REQUESTS
// =============================================================================

func (s *Store) InsertOff(ctx context.Context, o mess.OffRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertOff(ctx, s.db, o)
}

func insertOff(ctx context.Context, db dbtx, o mess.OffRequest) (int64, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO off_requests (user_handle, date, meal) VALUES (?, ?, ?)",
		o.UserHandle, o.Date.String(), string(o.Meal))
	if err != nil {
		return 0, mapConstraintError(err)
	}
	return res.LastInsertId()
}

func (s *Store) GetOff(ctx context.Context, id int64) (*mess.OffRequest, error) {
	return getOff(ctx, s.db, id)
}

func getOff(ctx context.Context, db dbtx, id int64) (*mess.OffRequest, error) {
	row := db.QueryRowContext(ctx,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE id = ?", id)
	o, err := scanOff(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id=%d", mess.ErrOffNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetOffForDate(ctx context.Context, handle string, date mess.Date) (*mess.OffRequest, error) {
	return getOffForDate(ctx, s.db, handle, date)
}

func getOffForDate(ctx context.Context, db dbtx, handle string, date mess.Date) (*mess.OffRequest, error) {
	row := db.QueryRowContext(ctx,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE user_handle = ? AND date = ?",
		handle, date.String())
	o, err := scanOff(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s on %s", mess.ErrOffNotFound, handle, date)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) DeleteOff(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteOff(ctx, s.db, id)
}

func deleteOff(ctx context.Context, db dbtx, id int64) error {
	res, err := db.ExecContext(ctx, "DELETE FROM off_requests WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res, mess.ErrOffNotFound, fmt.Sprintf("id=%d", id))
}

func (s *Store) ListOffs(ctx context.Context, handle string) ([]mess.OffRequest, error) {
	return queryOffs(ctx, s.db,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE user_handle = ? ORDER BY date",
		handle)
}

func (s *Store) ListOffsFrom(ctx context.Context, handle string, from mess.Date) ([]mess.OffRequest, error) {
	return queryOffs(ctx, s.db,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE user_handle = ? AND date >= ? ORDER BY date",
		handle, from.String())
}

func (s *Store) ListOffsForDate(ctx context.Context, date mess.Date) ([]mess.OffRequest, error) {
	return queryOffs(ctx, s.db,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE date = ? ORDER BY user_handle",
		date.String())
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p mess.Payment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendPayment(ctx, s.db, p)
}

func appendPayment(ctx context.Context, db dbtx, p mess.Payment) (int64, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO payments (user_handle, payment_date, days_added) VALUES (?, ?, ?)",
		p.UserHandle, p.PaymentDate.String(), p.DaysAdded)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListPayments(ctx context.Context, handle string) ([]mess.Payment, error) {
	return listPayments(ctx, s.db, handle)
}

func listPayments(ctx context.Context, db dbtx, handle string) ([]mess.Payment, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, user_handle, payment_date, days_added FROM payments WHERE user_handle = ? ORDER BY id",
		handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []mess.Payment
	for rows.Next() {
		var (
			p    mess.Payment
			date string
		)
		if err := rows.Scan(&p.ID, &p.UserHandle, &date, &p.DaysAdded); err != nil {
			return nil, err
		}
		if p.PaymentDate, err = mess.ParseDate(date); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// CREDIT ENTRIES
// =============================================================================

func (s *Store) AppendCreditEntry(ctx context.Context, e mess.CreditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendCreditEntry(ctx, s.db, e)
}

func appendCreditEntry(ctx context.Context, db dbtx, e mess.CreditEntry) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO credit_entries (user_handle, delta, entry_type, reference, created_at) VALUES (?, ?, ?, ?, ?)",
		e.UserHandle, e.Delta, string(e.Type), nullString(e.Reference), e.CreatedAt.String())
	return err
}

func (s *Store) ListCreditEntries(ctx context.Context, handle string) ([]mess.CreditEntry, error) {
	return listCreditEntries(ctx, s.db, handle)
}

func listCreditEntries(ctx context.Context, db dbtx, handle string) ([]mess.CreditEntry, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, user_handle, delta, entry_type, reference, created_at FROM credit_entries WHERE user_handle = ? ORDER BY id",
		handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []mess.CreditEntry
	for rows.Next() {
		var (
			e         mess.CreditEntry
			typ       string
			reference sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.UserHandle, &e.Delta, &typ, &reference, &createdAt); err != nil {
			return nil, err
		}
		e.Type = mess.CreditEntryType(typ)
		e.Reference = reference.String
		if e.CreatedAt, err = mess.ParseDate(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn against a transactional view. The store mutex is
// held for the duration, so the closure sees a stable snapshot and no
// other writer can interleave.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store operation through the open sql.Tx. No
// locking: WithTx already holds the store mutex.
type txStore struct {
	tx *sql.Tx
}

var _ ledger.Store = (*txStore)(nil)

func (ts *txStore) CreateUser(ctx context.Context, u mess.User) error {
	return createUser(ctx, ts.tx, u)
}

func (ts *txStore) GetUser(ctx context.Context, handle string) (*mess.User, error) {
	return getUserBy(ctx, ts.tx, "handle", handle)
}

func (ts *txStore) GetUserByPhone(ctx context.Context, phone string) (*mess.User, error) {
	return getUserBy(ctx, ts.tx, "phone", phone)
}

func (ts *txStore) GetUserByChatID(ctx context.Context, chatID string) (*mess.User, error) {
	return getUserBy(ctx, ts.tx, "chat_id", chatID)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]mess.User, error) {
	return queryUsers(ctx, ts.tx, "SELECT "+userColumns+" FROM users ORDER BY handle")
}

func (ts *txStore) ListUsersWithCredits(ctx context.Context, min int) ([]mess.User, error) {
	return queryUsers(ctx, ts.tx,
		"SELECT "+userColumns+" FROM users WHERE meal_credits >= ? ORDER BY handle", min)
}

func (ts *txStore) Handles(ctx context.Context, prefix string) ([]string, error) {
	return handles(ctx, ts.tx, prefix)
}

func (ts *txStore) SetChatID(ctx context.Context, handle, chatID string) error {
	return setChatID(ctx, ts.tx, handle, chatID)
}

func (ts *txStore) SetSubscriptionEnd(ctx context.Context, handle string, end mess.Date) error {
	return setSubscriptionEnd(ctx, ts.tx, handle, end)
}

func (ts *txStore) SetCredits(ctx context.Context, handle string, balance int) error {
	return setCredits(ctx, ts.tx, handle, balance)
}

func (ts *txStore) InsertOff(ctx context.Context, o mess.OffRequest) (int64, error) {
	return insertOff(ctx, ts.tx, o)
}

func (ts *txStore) GetOff(ctx context.Context, id int64) (*mess.OffRequest, error) {
	return getOff(ctx, ts.tx, id)
}

func (ts *txStore) GetOffForDate(ctx context.Context, handle string, date mess.Date) (*mess.OffRequest, error) {
	return getOffForDate(ctx, ts.tx, handle, date)
}

func (ts *txStore) DeleteOff(ctx context.Context, id int64) error {
	return deleteOff(ctx, ts.tx, id)
}

func (ts *txStore) ListOffs(ctx context.Context, handle string) ([]mess.OffRequest, error) {
	return queryOffs(ctx, ts.tx,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE user_handle = ? ORDER BY date",
		handle)
}

func (ts *txStore) ListOffsFrom(ctx context.Context, handle string, from mess.Date) ([]mess.OffRequest, error) {
	return queryOffs(ctx, ts.tx,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE user_handle = ? AND date >= ? ORDER BY date",
		handle, from.String())
}

func (ts *txStore) ListOffsForDate(ctx context.Context, date mess.Date) ([]mess.OffRequest, error) {
	return queryOffs(ctx, ts.tx,
		"SELECT id, user_handle, date, meal FROM off_requests WHERE date = ? ORDER BY user_handle",
		date.String())
}

func (ts *txStore) AppendPayment(ctx context.Context, p mess.Payment) (int64, error) {
	return appendPayment(ctx, ts.tx, p)
}

func (ts *txStore) ListPayments(ctx context.Context, handle string) ([]mess.Payment, error) {
	return listPayments(ctx, ts.tx, handle)
}

func (ts *txStore) AppendCreditEntry(ctx context.Context, e mess.CreditEntry) error {
	return appendCreditEntry(ctx, ts.tx, e)
}

func (ts *txStore) ListCreditEntries(ctx context.Context, handle string) ([]mess.CreditEntry, error) {
	return listCreditEntries(ctx, ts.tx, handle)
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*mess.User, error) {
	var (
		u                mess.User
		chatID           sql.NullString
		subStart, subEnd sql.NullString
	)
	err := row.Scan(&u.Handle, &u.Name, &u.Phone, &chatID, &subStart, &subEnd, &u.MealCredits)
	if err != nil {
		return nil, err
	}
	u.ChatID = chatID.String
	if u.SubStart, err = parseNullDate(subStart); err != nil {
		return nil, err
	}
	if u.SubEnd, err = parseNullDate(subEnd); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanOff(row rowScanner) (*mess.OffRequest, error) {
	var (
		o    mess.OffRequest
		date string
		meal string
	)
	if err := row.Scan(&o.ID, &o.UserHandle, &date, &meal); err != nil {
		return nil, err
	}
	var err error
	if o.Date, err = mess.ParseDate(date); err != nil {
		return nil, err
	}
	o.Meal = mess.Meal(meal)
	return &o, nil
}

func queryUsers(ctx context.Context, db dbtx, query string, args ...any) ([]mess.User, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []mess.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func queryOffs(ctx context.Context, db dbtx, query string, args ...any) ([]mess.OffRequest, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offs []mess.OffRequest
	for rows.Next() {
		o, err := scanOff(rows)
		if err != nil {
			return nil, err
		}
		offs = append(offs, *o)
	}
	return offs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *mess.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(ns sql.NullString) (*mess.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := mess.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func requireRow(res sql.Result, sentinel error, detail string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sentinel, detail)
	}
	return nil
}

// mapConstraintError translates sqlite UNIQUE violations into the
// domain conflict sentinels.
func mapConstraintError(err error) error {
	if err == nil || !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.phone"):
		return fmt.Errorf("%w: %v", mess.ErrDuplicatePhone, err)
	case strings.Contains(msg, "users.chat_id"):
		return fmt.Errorf("%w: %v", mess.ErrAlreadyLinked, err)
	case strings.Contains(msg, "off_requests"):
		return fmt.Errorf("%w: %v", mess.ErrAlreadyOff, err)
	}
	return err
}
