package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upem-wims/wims-lti/platform/go/logging"
	"github.com/upem-wims/wims-lti/platform/go/lti"
	"github.com/upem-wims/wims-lti/platform/go/metrics"
	"github.com/upem-wims/wims-lti/platform/go/problems"
	"github.com/upem-wims/wims-lti/platform/go/requesttrace"
	"github.com/upem-wims/wims-lti/platform/go/wims"
)

const supervisorLogin = "supervisor"

var wimsLanguages = map[string]bool{
	"en": true, "fr": true, "es": true, "it": true, "nl": true,
	"de": true, "ca": true, "cn": true, "si": true, "tw": true,
}

// Target identifies where a class binding lives.
type Target struct {
	LMSID   int64
	LMSName string
	WimsID  int64
}

// Config holds the Resolver's injected settings.
type Config struct {
	// Privileged roles may create classes and sheets.
	Privileged lti.RoleSet
	// DefaultLang is used when the launch locale is not a WIMS language.
	DefaultLang string
	// ClassLifetime sets the expiration of created classes; defaults to 364 days.
	ClassLifetime time.Duration
	// FallbackEmail is the class contact when the instructor sends no email.
	FallbackEmail string
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Now           func() time.Time
}

// Resolver maps LMS contexts and resource links onto WIMS classes and sheets, creating them
// on first privileged launch.
type Resolver struct {
	repo   Repository
	cfg    Config
	flight singleflight.Group
}

// NewResolver constructs a Resolver with required dependencies.
func NewResolver(repo Repository, cfg Config) *Resolver {
	if repo == nil {
		panic("classes repo is required")
	}
	if cfg.Privileged == nil {
		cfg.Privileged = lti.NewRoleSet(lti.RoleInstructor, lti.RoleAdministrator)
	}
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = "en"
	}
	if cfg.ClassLifetime <= 0 {
		cfg.ClassLifetime = 364 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{repo: repo, cfg: cfg}
}

// IsPrivileged reports whether the launch may create remote resources.
func (r *Resolver) IsPrivileged(launch lti.Launch) bool {
	return r.cfg.Privileged.Intersects(launch.Roles)
}

// ResolveClass returns the binding for the launch's context. When none exists and allowCreate
// is set, a privileged launch creates the remote class and persists the binding.
func (r *Resolver) ResolveClass(ctx context.Context, sess wims.Session, target Target, launch lti.Launch, allowCreate bool) (Class, error) {
	cls, err := r.repo.FindClass(ctx, target.LMSID, launch.ContextID)
	if err == nil {
		return sameServer(cls, target)
	}
	if !errors.Is(err, ErrNotFound) {
		return Class{}, fmt.Errorf("find class binding: %w", err)
	}
	if !allowCreate || !r.IsPrivileged(launch) {
		return Class{}, problems.New(problems.ErrNotFound, "Could not find class of id '%s'", launch.ContextID)
	}

	// The flight outlives the caller that started it: waiters share its result.
	key := fmt.Sprintf("class:%d:%d:%s", target.LMSID, target.WimsID, launch.ContextID)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.createClass(context.WithoutCancel(ctx), sess, target, launch)
	})
	if err != nil {
		return Class{}, err
	}
	return v.(Class), nil
}

// sameServer rejects a binding made on another WIMS server than the one launched through.
func sameServer(cls Class, target Target) (Class, error) {
	if cls.WimsID == target.WimsID {
		return cls, nil
	}
	return Class{}, problems.New(problems.ErrConflict,
		"Class of id '%s' is already bound to another WIMS server", cls.LMSContextID)
}

func (r *Resolver) createClass(ctx context.Context, sess wims.Session, target Target, launch lti.Launch) (Class, error) {
	logger := logging.FromContextOr(ctx, r.cfg.Logger)

	// A flight that finished just before this one started may already have stored it.
	if cls, err := r.repo.FindClass(ctx, target.LMSID, launch.ContextID); err == nil {
		return sameServer(cls, target)
	}

	name := launch.ContextTitle
	if name == "" {
		name = launch.ContextID
	}
	email := launch.Email
	if email == "" {
		email = r.cfg.FallbackEmail
	}
	given := launch.GivenName
	if given == "" {
		given = "Supervisor"
	}

	qclass, err := sess.CreateClass(ctx, wims.Class{
		Description: name,
		Institution: target.LMSName,
		Email:       email,
		Password:    randomPassword(),
		Lang:        r.language(launch),
		Expiration:  r.cfg.Now().Add(r.cfg.ClassLifetime),
		Supervisor: wims.User{
			Login:     supervisorLogin,
			FirstName: given,
			LastName:  launch.FamilyName,
			Password:  randomPassword(),
			Email:     email,
		},
	})
	if err != nil {
		return Class{}, upstream(sess, err)
	}

	cls, err := r.repo.InsertClass(ctx, Class{
		LMSID:        target.LMSID,
		LMSContextID: launch.ContextID,
		WimsID:       target.WimsID,
		QClass:       qclass,
		Name:         name,
	})
	switch {
	case err == nil:
		r.cfg.Metrics.IncClassCreated()
		logger.Info("wims class created", append(requesttrace.FromContextOrAnonymous(ctx).Fields(),
			zap.Int64("class_id", cls.ID),
			zap.String("qclass", qclass),
			zap.String("context_id", launch.ContextID),
		)...)
		return cls, nil
	case errors.Is(err, ErrConflict):
		r.cfg.Metrics.IncRaceRecovery()
		r.discardClass(ctx, sess, qclass, logger)
		winner, findErr := r.repo.FindClass(ctx, target.LMSID, launch.ContextID)
		if findErr != nil {
			return Class{}, fmt.Errorf("re-read class binding after conflict: %w", findErr)
		}
		logger.Info("class binding race lost, reusing winner",
			zap.Int64("class_id", winner.ID),
			zap.String("qclass", winner.QClass),
		)
		return sameServer(winner, target)
	default:
		r.discardClass(ctx, sess, qclass, logger)
		return Class{}, fmt.Errorf("persist class binding: %w", err)
	}
}

func (r *Resolver) discardClass(ctx context.Context, sess wims.Session, qclass string, logger *zap.Logger) {
	if err := sess.DeleteClass(ctx, qclass); err != nil {
		logger.Warn("could not delete orphan wims class", zap.String("qclass", qclass), zap.Error(err))
	}
}

// ResolveActivity returns the sheet bound to the launch's resource link inside cls. When none
// is bound, itemID is bound if it exists on WIMS, otherwise a privileged launch gets a new sheet.
func (r *Resolver) ResolveActivity(ctx context.Context, sess wims.Session, cls Class, itemID string, launch lti.Launch) (Activity, error) {
	act, err := r.repo.FindActivity(ctx, cls.ID, launch.ResourceLinkID)
	if err == nil {
		return act, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Activity{}, fmt.Errorf("find activity binding: %w", err)
	}

	key := fmt.Sprintf("activity:%d:%s", cls.ID, launch.ResourceLinkID)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.bindActivity(context.WithoutCancel(ctx), sess, cls, itemID, launch)
	})
	if err != nil {
		return Activity{}, err
	}
	return v.(Activity), nil
}

func (r *Resolver) bindActivity(ctx context.Context, sess wims.Session, cls Class, itemID string, launch lti.Launch) (Activity, error) {
	logger := logging.FromContextOr(ctx, r.cfg.Logger)

	if act, err := r.repo.FindActivity(ctx, cls.ID, launch.ResourceLinkID); err == nil {
		return act, nil
	}

	exists := false
	if itemID != "" {
		var err error
		if exists, err = sess.SheetExists(ctx, cls.QClass, itemID); err != nil {
			return Activity{}, upstream(sess, err)
		}
	}

	sheetID := itemID
	if !exists {
		if !r.IsPrivileged(launch) {
			return Activity{}, problems.New(problems.ErrNotFound, "Could not find sheet of id '%s' in class '%s'", itemID, cls.QClass)
		}
		title := launch.ResourceLinkTitle
		if title == "" {
			title = launch.ResourceLinkID
		}
		created, err := sess.CreateSheet(ctx, cls.QClass, wims.Sheet{
			Title:       title,
			Description: strings.TrimSpace("Linked from " + cls.Name),
		})
		if err != nil {
			return Activity{}, upstream(sess, err)
		}
		sheetID = created
		r.cfg.Metrics.IncSheetCreated()
		logger.Info("wims sheet created", append(requesttrace.FromContextOrAnonymous(ctx).Fields(),
			zap.String("qclass", cls.QClass),
			zap.String("sheet_id", sheetID),
		)...)
	}

	act, err := r.repo.InsertActivity(ctx, Activity{ClassID: cls.ID, ResourceLinkID: launch.ResourceLinkID, SheetID: sheetID})
	switch {
	case err == nil:
		return act, nil
	case errors.Is(err, ErrConflict):
		r.cfg.Metrics.IncRaceRecovery()
		winner, findErr := r.repo.FindActivity(ctx, cls.ID, launch.ResourceLinkID)
		if findErr != nil {
			return Activity{}, fmt.Errorf("re-read activity binding after conflict: %w", findErr)
		}
		return winner, nil
	default:
		return Activity{}, fmt.Errorf("persist activity binding: %w", err)
	}
}

// RecordOutcome stores the outcome coordinates of a launch when it carries both. Failures are
// logged and counted, never returned.
func (r *Resolver) RecordOutcome(ctx context.Context, cls Class, launch lti.Launch) {
	if !launch.HasOutcome() {
		return
	}
	_, err := r.repo.UpsertOutcome(ctx, Outcome{
		ClassID:         cls.ID,
		ResourceLinkID:  launch.ResourceLinkID,
		ServiceURL:      launch.OutcomeServiceURL,
		ResultSourcedID: launch.ResultSourcedID,
		LMSUserID:       launch.UserID,
	})
	if err != nil {
		r.cfg.Metrics.IncOutcomeFailure()
		logging.FromContextOr(ctx, r.cfg.Logger).Warn("could not record outcome binding",
			zap.Int64("class_id", cls.ID),
			zap.String("resource_link_id", launch.ResourceLinkID),
			zap.Error(err),
		)
	}
}

func (r *Resolver) language(launch lti.Launch) string {
	if lang := launch.Language(); wimsLanguages[lang] {
		return lang
	}
	return r.cfg.DefaultLang
}

// upstream turns WIMS client errors into problems carrying a client-facing message.
func upstream(sess wims.Session, err error) error {
	return UpstreamProblem(sess.Server().URL, err)
}

// UpstreamProblem maps a WIMS client error for the server at baseURL.
func UpstreamProblem(baseURL string, err error) error {
	var (
		ident *wims.IdentificationError
		api   *wims.APIError
	)
	switch {
	case errors.As(err, &ident):
		return problems.Wrap(problems.ErrUpstreamAuth, err, "%s", ident.Message)
	case errors.Is(err, wims.ErrUnreachable):
		return problems.Wrap(problems.ErrUpstreamUnreachable, err, "Could not join the WIMS server '%s'", baseURL)
	case errors.As(err, &api):
		return problems.Wrap(problems.ErrUpstreamRejected, err, "WIMS server '%s' refused %s: %s", baseURL, api.Job, api.Message)
	default:
		return err
	}
}

func randomPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
