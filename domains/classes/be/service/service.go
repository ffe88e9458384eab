package service

import (
	"context"
	"errors"
	"time"
)

// Errors returned by repositories.
var (
	ErrNotFound = errors.New("binding not found")
	ErrConflict = errors.New("binding already exists")
)

// Class binds one LMS context to one remote WIMS class.
type Class struct {
	ID           int64
	LMSID        int64
	LMSContextID string
	WimsID       int64
	QClass       string
	Name         string
	CreatedAt    time.Time
}

// Activity binds one LMS resource link to one sheet of a bound class.
type Activity struct {
	ID             int64
	ClassID        int64
	ResourceLinkID string
	SheetID        string
	CreatedAt      time.Time
}

// Outcome holds where scores for a resource link should be reported.
type Outcome struct {
	ClassID         int64
	ResourceLinkID  string
	ServiceURL      string
	ResultSourcedID string
	LMSUserID       string
	UpdatedAt       time.Time
}

// Repository abstracts persistence. Insert methods return ErrConflict when the unique key
// is already taken, which callers treat as "someone else won".
type Repository interface {
	FindClass(ctx context.Context, lmsID int64, contextID string) (Class, error)
	InsertClass(ctx context.Context, c Class) (Class, error)
	FindActivity(ctx context.Context, classID int64, resourceLinkID string) (Activity, error)
	InsertActivity(ctx context.Context, a Activity) (Activity, error)
	UpsertOutcome(ctx context.Context, o Outcome) (Outcome, error)
}
