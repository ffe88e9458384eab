package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	LMSTable  = "lms"
	WimsTable = "wims"
)

// LMSRecord represents a row in the lms table.
type LMSRecord struct {
	LMSID          int64     `db:"lms_id"`
	UUID           string    `db:"uuid"`
	URL            string    `db:"url"`
	Name           string    `db:"name"`
	ConsumerKey    string    `db:"consumer_key"`
	ConsumerSecret string    `db:"consumer_secret"`
	CreatedAt      time.Time `db:"created_at"`
}

// WimsRecord represents a row in the wims table.
type WimsRecord struct {
	WimsID    int64     `db:"wims_id"`
	URL       string    `db:"url"`
	Name      string    `db:"name"`
	Ident     string    `db:"ident"`
	Passwd    string    `db:"passwd"`
	RClass    string    `db:"rclass"`
	CreatedAt time.Time `db:"created_at"`
}

// CredentialStore gives access to the administrator-managed lms and wims tables.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a store; assumes Bootstrap already created the tables.
func NewCredentialStore(ctx context.Context, pool *pgxpool.Pool) (*CredentialStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &CredentialStore{pool: pool}, nil
}

const lmsColumns = `lms_id, uuid, url, name, consumer_key, consumer_secret, created_at`

// CreateLMS inserts a new LMS registration.
func (s *CredentialStore) CreateLMS(ctx context.Context, rec LMSRecord) (LMSRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (uuid, url, name, consumer_key, consumer_secret)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING %s
    `, LMSTable, lmsColumns)

	out, err := scanLMSRecord(s.pool.QueryRow(ctx, query,
		strings.TrimSpace(rec.UUID), strings.TrimSpace(rec.URL), strings.TrimSpace(rec.Name),
		strings.TrimSpace(rec.ConsumerKey), rec.ConsumerSecret,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return LMSRecord{}, ErrConflict
		}
		return LMSRecord{}, fmt.Errorf("insert lms: %w", err)
	}
	return out, nil
}

// GetLMSByUUID returns the LMS whose tool consumer instance guid matches exactly.
func (s *CredentialStore) GetLMSByUUID(ctx context.Context, uuid string) (LMSRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE uuid = $1`, lmsColumns, LMSTable)
	return scanLMSRecord(s.pool.QueryRow(ctx, query, uuid))
}

// GetLMSByConsumerKey returns the LMS owning the OAuth consumer key.
func (s *CredentialStore) GetLMSByConsumerKey(ctx context.Context, key string) (LMSRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE consumer_key = $1`, lmsColumns, LMSTable)
	return scanLMSRecord(s.pool.QueryRow(ctx, query, key))
}

// ListLMS returns every registration ordered by id.
func (s *CredentialStore) ListLMS(ctx context.Context) ([]LMSRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY lms_id`, lmsColumns, LMSTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list lms: %w", err)
	}
	defer rows.Close()

	var records []LMSRecord
	for rows.Next() {
		rec, err := scanLMSRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const wimsColumns = `wims_id, url, name, ident, passwd, rclass, created_at`

// CreateWims inserts a new WIMS server; credentials are not checked here.
func (s *CredentialStore) CreateWims(ctx context.Context, rec WimsRecord) (WimsRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (url, name, ident, passwd, rclass)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING %s
    `, WimsTable, wimsColumns)

	out, err := scanWimsRecord(s.pool.QueryRow(ctx, query,
		strings.TrimSpace(rec.URL), strings.TrimSpace(rec.Name), rec.Ident, rec.Passwd, strings.TrimSpace(rec.RClass),
	))
	if err != nil {
		return WimsRecord{}, fmt.Errorf("insert wims: %w", err)
	}
	return out, nil
}

// GetWims fetches a WIMS server by primary key.
func (s *CredentialStore) GetWims(ctx context.Context, id int64) (WimsRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE wims_id = $1`, wimsColumns, WimsTable)
	return scanWimsRecord(s.pool.QueryRow(ctx, query, id))
}

// ListWims returns every WIMS server ordered by id.
func (s *CredentialStore) ListWims(ctx context.Context) ([]WimsRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY wims_id`, wimsColumns, WimsTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list wims: %w", err)
	}
	defer rows.Close()

	var records []WimsRecord
	for rows.Next() {
		rec, err := scanWimsRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanLMSRecord(row pgx.Row) (LMSRecord, error) {
	var rec LMSRecord
	if err := row.Scan(&rec.LMSID, &rec.UUID, &rec.URL, &rec.Name, &rec.ConsumerKey, &rec.ConsumerSecret, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LMSRecord{}, ErrNotFound
		}
		return LMSRecord{}, err
	}
	return rec, nil
}

func scanWimsRecord(row pgx.Row) (WimsRecord, error) {
	var rec WimsRecord
	if err := row.Scan(&rec.WimsID, &rec.URL, &rec.Name, &rec.Ident, &rec.Passwd, &rec.RClass, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WimsRecord{}, ErrNotFound
		}
		return WimsRecord{}, err
	}
	return rec, nil
}
