package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is a lease backend persisted to a SQLite database file,
// for deployments that need bindings to survive a restart.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS leases6 (
	address    TEXT PRIMARY KEY,
	duid       BLOB NOT NULL,
	iaid       INTEGER NOT NULL,
	subnet_id  INTEGER NOT NULL,
	t1         INTEGER NOT NULL,
	t2         INTEGER NOT NULL,
	preferred  INTEGER NOT NULL,
	valid      INTEGER NOT NULL,
	cltt       INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS leases6_client
	ON leases6 (duid, iaid, subnet_id);
`

// NewSQLiteStore opens (and if necessary initializes) a SQLite lease
// database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lease database: %w", err)
	}
	// Serialize writers; the processor is single-threaded but tests and
	// future parallel implementations are not.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize lease schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Add implements Store.
func (s *SQLiteStore) Add(ctx context.Context, l *Lease) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leases6 (address, duid, iaid, subnet_id, t1, t2, preferred, valid, cltt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addrKey(l.Address), l.DUID, l.IAID, l.SubnetID,
		l.T1, l.T2, l.Preferred, l.Valid, l.CLTT.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, l.Address)
		}
		return fmt.Errorf("failed to insert lease: %w", err)
	}
	return nil
}

// GetByAddress implements Store.
func (s *SQLiteStore) GetByAddress(ctx context.Context, addr net.IP) (*Lease, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, duid, iaid, subnet_id, t1, t2, preferred, valid, cltt
		 FROM leases6 WHERE address = ?`, addrKey(addr))
	return scanLease(row)
}

// GetByClient implements Store.
func (s *SQLiteStore) GetByClient(ctx context.Context, duid []byte, iaid uint32, subnetID uint32) (*Lease, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, duid, iaid, subnet_id, t1, t2, preferred, valid, cltt
		 FROM leases6 WHERE duid = ? AND iaid = ? AND subnet_id = ?`,
		duid, iaid, subnetID)
	return scanLease(row)
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, l *Lease) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leases6 SET duid = ?, iaid = ?, subnet_id = ?,
		 t1 = ?, t2 = ?, preferred = ?, valid = ?, cltt = ?
		 WHERE address = ?`,
		l.DUID, l.IAID, l.SubnetID,
		l.T1, l.T2, l.Preferred, l.Valid, l.CLTT.Unix(),
		addrKey(l.Address))
	if err != nil {
		return fmt.Errorf("failed to update lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, l.Address)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, addr net.IP) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM leases6 WHERE address = ?`, addrKey(addr))
	if err != nil {
		return false, fmt.Errorf("failed to delete lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanLease(row *sql.Row) (*Lease, error) {
	var (
		addr string
		l    Lease
		cltt int64
	)
	err := row.Scan(&addr, &l.DUID, &l.IAID, &l.SubnetID,
		&l.T1, &l.T2, &l.Preferred, &l.Valid, &cltt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan lease: %w", err)
	}
	l.Address = net.ParseIP(addr)
	l.CLTT = time.Unix(cltt, 0)
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
