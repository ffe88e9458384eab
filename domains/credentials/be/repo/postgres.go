package repo

import (
	"context"
	"errors"

	"github.com/upem-wims/wims-lti/domains/credentials/be/service"
	"github.com/upem-wims/wims-lti/platform/go/persistence"
)

// PostgresRepository implements the credentials repository on CredentialStore.
type PostgresRepository struct {
	store *persistence.CredentialStore
}

// NewPostgresRepository constructs a repository backed by CredentialStore.
func NewPostgresRepository(store *persistence.CredentialStore) *PostgresRepository {
	if store == nil {
		panic("credential store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) GetWims(ctx context.Context, id int64) (service.WimsServer, error) {
	rec, err := r.store.GetWims(ctx, id)
	if err != nil {
		return service.WimsServer{}, mapErr(err)
	}
	return toServiceWims(rec), nil
}

func (r *PostgresRepository) GetLMSByUUID(ctx context.Context, uuid string) (service.LMS, error) {
	rec, err := r.store.GetLMSByUUID(ctx, uuid)
	if err != nil {
		return service.LMS{}, mapErr(err)
	}
	return toServiceLMS(rec), nil
}

func (r *PostgresRepository) GetLMSByKey(ctx context.Context, consumerKey string) (service.LMS, error) {
	rec, err := r.store.GetLMSByConsumerKey(ctx, consumerKey)
	if err != nil {
		return service.LMS{}, mapErr(err)
	}
	return toServiceLMS(rec), nil
}

func (r *PostgresRepository) CreateLMS(ctx context.Context, lms service.LMS) (service.LMS, error) {
	rec, err := r.store.CreateLMS(ctx, persistence.LMSRecord{
		UUID:           lms.UUID,
		URL:            lms.URL,
		Name:           lms.Name,
		ConsumerKey:    lms.ConsumerKey,
		ConsumerSecret: lms.ConsumerSecret,
	})
	if err != nil {
		return service.LMS{}, mapErr(err)
	}
	return toServiceLMS(rec), nil
}

func (r *PostgresRepository) CreateWims(ctx context.Context, w service.WimsServer) (service.WimsServer, error) {
	rec, err := r.store.CreateWims(ctx, persistence.WimsRecord{
		URL:    w.URL,
		Name:   w.Name,
		Ident:  w.Ident,
		Passwd: w.Passwd,
		RClass: w.RClass,
	})
	if err != nil {
		return service.WimsServer{}, mapErr(err)
	}
	return toServiceWims(rec), nil
}

func (r *PostgresRepository) ListLMS(ctx context.Context) ([]service.LMS, error) {
	recs, err := r.store.ListLMS(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.LMS, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toServiceLMS(rec))
	}
	return out, nil
}

func (r *PostgresRepository) ListWims(ctx context.Context) ([]service.WimsServer, error) {
	recs, err := r.store.ListWims(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.WimsServer, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toServiceWims(rec))
	}
	return out, nil
}

func toServiceLMS(rec persistence.LMSRecord) service.LMS {
	return service.LMS{
		ID:             rec.LMSID,
		UUID:           rec.UUID,
		URL:            rec.URL,
		Name:           rec.Name,
		ConsumerKey:    rec.ConsumerKey,
		ConsumerSecret: rec.ConsumerSecret,
		CreatedAt:      rec.CreatedAt,
	}
}

func toServiceWims(rec persistence.WimsRecord) service.WimsServer {
	return service.WimsServer{
		ID:        rec.WimsID,
		URL:       rec.URL,
		Name:      rec.Name,
		Ident:     rec.Ident,
		Passwd:    rec.Passwd,
		RClass:    rec.RClass,
		CreatedAt: rec.CreatedAt,
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
