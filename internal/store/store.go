package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dekvall/matkrasslig/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
//
//   helpers(phone TEXT PRIMARY KEY, name TEXT, zipcode TEXT, district TEXT, registered_at TIMESTAMPTZ)
//   customers(phone TEXT PRIMARY KEY, zipcode TEXT, district TEXT, created_at TIMESTAMPTZ)
//   active_pairings(phone TEXT, role TEXT, peer_phone TEXT, updated_at TIMESTAMPTZ,
//                   PRIMARY KEY (phone, role))
//
// active_pairings holds one row per direction; the latest write per
// (phone, role) is authoritative for routing call-back requests.

// Store is the durable registry of helpers, customers and active pairings.
// It is the sole writer of these relations; call-session state lives in
// the callsession package, not here.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- helpers ---

func (s *Store) SaveHelper(ctx context.Context, h Helper) error {
	const q = `
INSERT INTO helpers (phone, name, zipcode, district, registered_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (phone)
DO UPDATE SET name = EXCLUDED.name,
              zipcode = EXCLUDED.zipcode,
              district = EXCLUDED.district
`
	_, err := s.db.ExecContext(ctx, q, h.Phone, h.Name, h.Zipcode, h.District, h.RegisteredAt)
	return err
}

func (s *Store) HelperExists(ctx context.Context, phone string) (bool, error) {
	const q = `SELECT 1 FROM helpers WHERE phone = $1`
	return s.exists(ctx, q, phone)
}

func (s *Store) HelperName(ctx context.Context, phone string) (string, error) {
	const q = `SELECT name FROM helpers WHERE phone = $1`
	var name string
	if err := s.db.QueryRowContext(ctx, q, phone).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return name, nil
}

func (s *Store) DeleteHelper(ctx context.Context, phone string) error {
	const q = `DELETE FROM helpers WHERE phone = $1`
	_, err := s.db.ExecContext(ctx, q, phone)
	return err
}

func (s *Store) AllHelpers(ctx context.Context) ([]Helper, error) {
	const q = `
SELECT phone, name, zipcode, district, registered_at
FROM helpers
ORDER BY phone
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Helper
	for rows.Next() {
		var h Helper
		if err := rows.Scan(&h.Phone, &h.Name, &h.Zipcode, &h.District, &h.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HelperZips returns the zip code of every registered helper, for the
// public volunteer map.
func (s *Store) HelperZips(ctx context.Context) ([]string, error) {
	const q = `SELECT zipcode FROM helpers ORDER BY phone`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var z string
		if err := rows.Scan(&z); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// --- customers ---

// SaveCustomer upserts; a returning customer re-confirming a postcode
// overwrites zipcode and district but keeps the original created_at.
func (s *Store) SaveCustomer(ctx context.Context, c Customer) error {
	const q = `
INSERT INTO customers (phone, zipcode, district, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (phone)
DO UPDATE SET zipcode = EXCLUDED.zipcode,
              district = EXCLUDED.district
`
	_, err := s.db.ExecContext(ctx, q, c.Phone, c.Zipcode, c.District, c.CreatedAt)
	return err
}

func (s *Store) CustomerExists(ctx context.Context, phone string) (bool, error) {
	const q = `SELECT 1 FROM customers WHERE phone = $1`
	return s.exists(ctx, q, phone)
}

func (s *Store) CustomerZipcode(ctx context.Context, phone string) (string, error) {
	const q = `SELECT zipcode FROM customers WHERE phone = $1`
	var zip string
	if err := s.db.QueryRowContext(ctx, q, phone).Scan(&zip); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return zip, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, phone string) error {
	const q = `DELETE FROM customers WHERE phone = $1`
	_, err := s.db.ExecContext(ctx, q, phone)
	return err
}

// --- active pairings ---

// SetActivePairing records a confirmed match in both directions inside one
// transaction, so a half-written pairing can never be observed.
func (s *Store) SetActivePairing(ctx context.Context, helperPhone, customerPhone string, now time.Time) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := upsertPairing(ctx, tx, helperPhone, RoleHelper, customerPhone, now); err != nil {
			return err
		}
		return upsertPairing(ctx, tx, customerPhone, RoleCustomer, helperPhone, now)
	})
}

func upsertPairing(ctx context.Context, tx *sql.Tx, phone, role, peer string, now time.Time) error {
	const q = `
INSERT INTO active_pairings (phone, role, peer_phone, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (phone, role)
DO UPDATE SET peer_phone = EXCLUDED.peer_phone,
              updated_at = EXCLUDED.updated_at
`
	_, err := tx.ExecContext(ctx, q, phone, role, peer, now)
	return err
}

// ActiveCustomer returns the customer currently paired with a helper, or
// ErrNotFound when the helper has never been matched.
func (s *Store) ActiveCustomer(ctx context.Context, helperPhone string) (string, error) {
	return s.pairedPeer(ctx, helperPhone, RoleHelper)
}

// ActiveHelper returns the helper currently paired with a customer.
func (s *Store) ActiveHelper(ctx context.Context, customerPhone string) (string, error) {
	return s.pairedPeer(ctx, customerPhone, RoleCustomer)
}

func (s *Store) pairedPeer(ctx context.Context, phone, role string) (string, error) {
	const q = `SELECT peer_phone FROM active_pairings WHERE phone = $1 AND role = $2`
	var peer string
	if err := s.db.QueryRowContext(ctx, q, phone, role).Scan(&peer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return peer, nil
}

func (s *Store) exists(ctx context.Context, q, phone string) (bool, error) {
	var one int
	if err := s.db.QueryRowContext(ctx, q, phone).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
