package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines reader persistence. Deleted readers are invisible to
// every read method.
type Repository interface {
	// ListAll returns every non-deleted reader.
	ListAll(ctx context.Context) ([]Reader, error)

	// ListEnabled returns every non-deleted, enabled reader.
	ListEnabled(ctx context.Context) ([]Reader, error)

	// GetByID returns one reader.
	// Returns ErrReaderNotFound if it does not exist or is deleted.
	GetByID(ctx context.Context, id int) (*Reader, error)

	// Insert stores a new reader and sets its ID.
	Insert(ctx context.Context, r *Reader) error

	// Update overwrites an existing reader.
	// Returns ErrReaderNotFound if it does not exist or is deleted.
	Update(ctx context.Context, r *Reader) error

	// SoftDelete marks a reader deleted.
	// Returns ErrReaderNotFound if it does not exist or is already deleted.
	SoftDelete(ctx context.Context, id int) error

	// SetEnabled persists only the enabled flag.
	// Returns ErrReaderNotFound if it does not exist or is deleted.
	SetEnabled(ctx context.Context, id int, enabled bool) error
}

const readerColumns = `
	id, description, ip_address, ip_address_effective, port, port_ws,
	unique_name, control_type, enabled, deleted, area_id, driver,
	created_at, modified_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListAll returns every non-deleted reader ordered by ID.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]Reader, error) {
	return r.queryReaders(ctx, `SELECT`+readerColumns+` FROM readers WHERE deleted = 0 ORDER BY id`)
}

// ListEnabled returns every non-deleted, enabled reader ordered by ID.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]Reader, error) {
	return r.queryReaders(ctx, `SELECT`+readerColumns+` FROM readers WHERE deleted = 0 AND enabled = 1 ORDER BY id`)
}

// GetByID returns one non-deleted reader.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int) (*Reader, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+readerColumns+` FROM readers WHERE id = ? AND deleted = 0`, id)
	rd, err := scanReader(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReaderNotFound
		}
		return nil, fmt.Errorf("querying reader by id: %w", err)
	}
	return rd, nil
}

// Insert validates and stores a new reader, assigning its ID and timestamps.
func (r *SQLiteRepository) Insert(ctx context.Context, rd *Reader) error {
	rd.applyDefaults()
	if err := Validate(rd); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	rd.Created = now
	rd.Modified = now
	rd.Deleted = false

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO readers (
			description, ip_address, ip_address_effective, port, port_ws,
			unique_name, control_type, enabled, deleted, area_id, driver,
			created_at, modified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		rd.Description,
		rd.IPAddress,
		rd.IPAddressEffective,
		rd.Port,
		rd.PortWS,
		rd.UniqueName,
		int(rd.ControlType),
		boolToInt(rd.Enabled),
		nullableInt(rd.AreaID),
		int(rd.Driver),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reader: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	rd.ID = int(id)
	return nil
}

// Update validates and overwrites an existing reader.
func (r *SQLiteRepository) Update(ctx context.Context, rd *Reader) error {
	rd.applyDefaults()
	if err := Validate(rd); err != nil {
		return err
	}

	rd.Modified = time.Now().UTC().Truncate(time.Second)

	res, err := r.db.ExecContext(ctx, `
		UPDATE readers SET
			description = ?, ip_address = ?, ip_address_effective = ?, port = ?,
			port_ws = ?, unique_name = ?, control_type = ?, enabled = ?,
			area_id = ?, driver = ?, modified_at = ?
		WHERE id = ? AND deleted = 0`,
		rd.Description,
		rd.IPAddress,
		rd.IPAddressEffective,
		rd.Port,
		rd.PortWS,
		rd.UniqueName,
		int(rd.ControlType),
		boolToInt(rd.Enabled),
		nullableInt(rd.AreaID),
		int(rd.Driver),
		rd.Modified.Format(time.RFC3339),
		rd.ID,
	)
	if err != nil {
		return fmt.Errorf("updating reader: %w", err)
	}
	return requireRow(res)
}

// SoftDelete marks a reader deleted and disabled.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE readers SET deleted = 1, enabled = 0, modified_at = ? WHERE id = ? AND deleted = 0`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("deleting reader: %w", err)
	}
	return requireRow(res)
}

// SetEnabled persists the enabled flag.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id int, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE readers SET enabled = ?, modified_at = ? WHERE id = ? AND deleted = 0`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating reader enabled flag: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) queryReaders(ctx context.Context, query string, args ...any) ([]Reader, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readers: %w", err)
	}
	defer rows.Close()

	var readers []Reader
	for rows.Next() {
		rd, err := scanReader(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reader: %w", err)
		}
		readers = append(readers, *rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readers: %w", err)
	}
	return readers, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReader(s rowScanner) (*Reader, error) {
	var rd Reader
	var controlType, enabled, deleted, driver int
	var areaID sql.NullInt64
	var created, modified string

	err := s.Scan(
		&rd.ID,
		&rd.Description,
		&rd.IPAddress,
		&rd.IPAddressEffective,
		&rd.Port,
		&rd.PortWS,
		&rd.UniqueName,
		&controlType,
		&enabled,
		&deleted,
		&areaID,
		&driver,
		&created,
		&modified,
	)
	if err != nil {
		return nil, err
	}

	rd.ControlType = ControlType(controlType)
	rd.Enabled = enabled != 0
	rd.Deleted = deleted != 0
	rd.Driver = Driver(driver)
	if areaID.Valid {
		v := int(areaID.Int64)
		rd.AreaID = &v
	}

	if rd.Created, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rd.Modified, err = time.Parse(time.RFC3339, modified); err != nil {
		return nil, fmt.Errorf("parsing modified_at: %w", err)
	}
	return &rd, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrReaderNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
