package repo

import (
	"context"
	"errors"

	"github.com/upem-wims/wims-lti/domains/classes/be/service"
	"github.com/upem-wims/wims-lti/platform/go/persistence"
)

// PostgresRepository implements the classes repository on ClassStore.
type PostgresRepository struct {
	store *persistence.ClassStore
}

// NewPostgresRepository constructs a repository backed by ClassStore.
func NewPostgresRepository(store *persistence.ClassStore) *PostgresRepository {
	if store == nil {
		panic("class store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) FindClass(ctx context.Context, lmsID int64, contextID string) (service.Class, error) {
	rec, err := r.store.FindClass(ctx, lmsID, contextID)
	if err != nil {
		return service.Class{}, mapErr(err)
	}
	return toServiceClass(rec), nil
}

func (r *PostgresRepository) InsertClass(ctx context.Context, c service.Class) (service.Class, error) {
	rec, err := r.store.InsertClass(ctx, persistence.ClassRecord{
		LMSID:        c.LMSID,
		LMSContextID: c.LMSContextID,
		WimsID:       c.WimsID,
		QClass:       c.QClass,
		Name:         c.Name,
	})
	if err != nil {
		return service.Class{}, mapErr(err)
	}
	return toServiceClass(rec), nil
}

func (r *PostgresRepository) FindActivity(ctx context.Context, classID int64, resourceLinkID string) (service.Activity, error) {
	rec, err := r.store.FindActivity(ctx, classID, resourceLinkID)
	if err != nil {
		return service.Activity{}, mapErr(err)
	}
	return toServiceActivity(rec), nil
}

func (r *PostgresRepository) InsertActivity(ctx context.Context, a service.Activity) (service.Activity, error) {
	rec, err := r.store.InsertActivity(ctx, persistence.ActivityRecord{
		ClassID:        a.ClassID,
		ResourceLinkID: a.ResourceLinkID,
		SheetID:        a.SheetID,
	})
	if err != nil {
		return service.Activity{}, mapErr(err)
	}
	return toServiceActivity(rec), nil
}

func (r *PostgresRepository) UpsertOutcome(ctx context.Context, o service.Outcome) (service.Outcome, error) {
	rec, err := r.store.UpsertOutcome(ctx, persistence.OutcomeRecord{
		ClassID:           o.ClassID,
		ResourceLinkID:    o.ResourceLinkID,
		OutcomeServiceURL: o.ServiceURL,
		ResultSourcedID:   o.ResultSourcedID,
		LMSUserID:         o.LMSUserID,
	})
	if err != nil {
		return service.Outcome{}, err
	}
	return service.Outcome{
		ClassID:         rec.ClassID,
		ResourceLinkID:  rec.ResourceLinkID,
		ServiceURL:      rec.OutcomeServiceURL,
		ResultSourcedID: rec.ResultSourcedID,
		LMSUserID:       rec.LMSUserID,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

func toServiceClass(rec persistence.ClassRecord) service.Class {
	return service.Class{
		ID:           rec.ClassID,
		LMSID:        rec.LMSID,
		LMSContextID: rec.LMSContextID,
		WimsID:       rec.WimsID,
		QClass:       rec.QClass,
		Name:         rec.Name,
		CreatedAt:    rec.CreatedAt,
	}
}

func toServiceActivity(rec persistence.ActivityRecord) service.Activity {
	return service.Activity{
		ID:             rec.ActivityID,
		ClassID:        rec.ClassID,
		ResourceLinkID: rec.ResourceLinkID,
		SheetID:        rec.SheetID,
		CreatedAt:      rec.CreatedAt,
	}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return service.ErrConflict
	default:
		return err
	}
}
