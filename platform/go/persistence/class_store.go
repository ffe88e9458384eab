package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	ClassesTable    = "wims_classes"
	ActivitiesTable = "wims_activities"
	OutcomesTable   = "wims_outcomes"
)

// ClassRecord binds one LMS context to one remote WIMS class.
type ClassRecord struct {
	ClassID      int64     `db:"class_id"`
	LMSID        int64     `db:"lms_id"`
	LMSContextID string    `db:"lms_context_id"`
	WimsID       int64     `db:"wims_id"`
	QClass       string    `db:"qclass"`
	Name         string    `db:"name"`
	CreatedAt    time.Time `db:"created_at"`
}

// ActivityRecord binds one LMS resource link to one sheet of a bound class.
type ActivityRecord struct {
	ActivityID     int64     `db:"activity_id"`
	ClassID        int64     `db:"class_id"`
	ResourceLinkID string    `db:"resource_link_id"`
	SheetID        string    `db:"sheet_id"`
	CreatedAt      time.Time `db:"created_at"`
}

// OutcomeRecord keeps the latest outcome-service coordinates seen for a resource link.
type OutcomeRecord struct {
	ClassID           int64     `db:"class_id"`
	ResourceLinkID    string    `db:"resource_link_id"`
	OutcomeServiceURL string    `db:"outcome_service_url"`
	ResultSourcedID   string    `db:"result_sourcedid"`
	LMSUserID         string    `db:"lms_user_id"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// ClassStore provides access to the tables owned by the launch flow.
type ClassStore struct {
	pool *pgxpool.Pool
}

// NewClassStore creates a store; assumes Bootstrap already created the tables.
func NewClassStore(ctx context.Context, pool *pgxpool.Pool) (*ClassStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ClassStore{pool: pool}, nil
}

const classColumns = `class_id, lms_id, lms_context_id, wims_id, qclass, name, created_at`

// InsertClass persists a new binding. A concurrent insert for the same (lms, context)
// surfaces as ErrConflict so the caller can re-read the winner's row.
func (s *ClassStore) InsertClass(ctx context.Context, rec ClassRecord) (ClassRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (lms_id, lms_context_id, wims_id, qclass, name)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING %s
    `, ClassesTable, classColumns)

	out, err := scanClassRecord(s.pool.QueryRow(ctx, query, rec.LMSID, rec.LMSContextID, rec.WimsID, rec.QClass, rec.Name))
	if err != nil {
		if isUniqueViolation(err) {
			return ClassRecord{}, ErrConflict
		}
		return ClassRecord{}, fmt.Errorf("insert class: %w", err)
	}
	return out, nil
}

// FindClass returns the binding for an LMS context.
func (s *ClassStore) FindClass(ctx context.Context, lmsID int64, contextID string) (ClassRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE lms_id = $1 AND lms_context_id = $2`, classColumns, ClassesTable)
	return scanClassRecord(s.pool.QueryRow(ctx, query, lmsID, contextID))
}

const activityColumns = `activity_id, class_id, resource_link_id, sheet_id, created_at`

// InsertActivity persists a resource-link to sheet mapping.
func (s *ClassStore) InsertActivity(ctx context.Context, rec ActivityRecord) (ActivityRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (class_id, resource_link_id, sheet_id)
        VALUES ($1, $2, $3)
        RETURNING %s
    `, ActivitiesTable, activityColumns)

	out, err := scanActivityRecord(s.pool.QueryRow(ctx, query, rec.ClassID, rec.ResourceLinkID, rec.SheetID))
	if err != nil {
		if isUniqueViolation(err) {
			return ActivityRecord{}, ErrConflict
		}
		return ActivityRecord{}, fmt.Errorf("insert activity: %w", err)
	}
	return out, nil
}

// FindActivity returns the sheet mapping of a resource link inside a class.
func (s *ClassStore) FindActivity(ctx context.Context, classID int64, resourceLinkID string) (ActivityRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE class_id = $1 AND resource_link_id = $2`, activityColumns, ActivitiesTable)
	return scanActivityRecord(s.pool.QueryRow(ctx, query, classID, resourceLinkID))
}

const outcomeColumns = `class_id, resource_link_id, outcome_service_url, result_sourcedid, lms_user_id, updated_at`

// UpsertOutcome overwrites the outcome coordinates of a resource link (last write wins).
func (s *ClassStore) UpsertOutcome(ctx context.Context, rec OutcomeRecord) (OutcomeRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO %s (class_id, resource_link_id, outcome_service_url, result_sourcedid, lms_user_id, updated_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (class_id, resource_link_id) DO UPDATE SET
            outcome_service_url = EXCLUDED.outcome_service_url,
            result_sourcedid    = EXCLUDED.result_sourcedid,
            lms_user_id         = EXCLUDED.lms_user_id,
            updated_at          = EXCLUDED.updated_at
        RETURNING %s
    `, OutcomesTable, outcomeColumns)

	out, err := scanOutcomeRecord(s.pool.QueryRow(ctx, query,
		rec.ClassID, rec.ResourceLinkID, rec.OutcomeServiceURL, rec.ResultSourcedID, rec.LMSUserID,
	))
	if err != nil {
		return OutcomeRecord{}, fmt.Errorf("upsert outcome: %w", err)
	}
	return out, nil
}

// GetOutcome returns the stored outcome coordinates of a resource link.
func (s *ClassStore) GetOutcome(ctx context.Context, classID int64, resourceLinkID string) (OutcomeRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE class_id = $1 AND resource_link_id = $2`, outcomeColumns, OutcomesTable)
	return scanOutcomeRecord(s.pool.QueryRow(ctx, query, classID, resourceLinkID))
}

func scanClassRecord(row pgx.Row) (ClassRecord, error) {
	var rec ClassRecord
	if err := row.Scan(&rec.ClassID, &rec.LMSID, &rec.LMSContextID, &rec.WimsID, &rec.QClass, &rec.Name, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClassRecord{}, ErrNotFound
		}
		return ClassRecord{}, err
	}
	return rec, nil
}

func scanActivityRecord(row pgx.Row) (ActivityRecord, error) {
	var rec ActivityRecord
	if err := row.Scan(&rec.ActivityID, &rec.ClassID, &rec.ResourceLinkID, &rec.SheetID, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ActivityRecord{}, ErrNotFound
		}
		return ActivityRecord{}, err
	}
	return rec, nil
}

func scanOutcomeRecord(row pgx.Row) (OutcomeRecord, error) {
	var rec OutcomeRecord
	if err := row.Scan(&rec.ClassID, &rec.ResourceLinkID, &rec.OutcomeServiceURL, &rec.ResultSourcedID, &rec.LMSUserID, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OutcomeRecord{}, ErrNotFound
		}
		return OutcomeRecord{}, err
	}
	return rec, nil
}
