package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	classsvc "github.com/upem-wims/wims-lti/domains/classes/be/service"
	credsvc "github.com/upem-wims/wims-lti/domains/credentials/be/service"
	"github.com/upem-wims/wims-lti/platform/go/logging"
	"github.com/upem-wims/wims-lti/platform/go/lti"
	"github.com/upem-wims/wims-lti/platform/go/problems"
	"github.com/upem-wims/wims-lti/platform/go/requesttrace"
	"github.com/upem-wims/wims-lti/platform/go/wims"
)

// Credentials resolves the records a launch targets.
type Credentials interface {
	ResolveWims(ctx context.Context, id int64) (credsvc.WimsServer, error)
	ResolveLMS(ctx context.Context, guid string) (credsvc.LMS, error)
	ResolveLMSByKey(ctx context.Context, consumerKey string) (credsvc.LMS, error)
}

// Classes maps launches onto WIMS classes and sheets.
type Classes interface {
	IsPrivileged(launch lti.Launch) bool
	ResolveClass(ctx context.Context, sess wims.Session, target classsvc.Target, launch lti.Launch, allowCreate bool) (classsvc.Class, error)
	ResolveActivity(ctx context.Context, sess wims.Session, cls classsvc.Class, itemID string, launch lti.Launch) (classsvc.Activity, error)
	RecordOutcome(ctx context.Context, cls classsvc.Class, launch lti.Launch)
}

// Verifier checks the OAuth signature, timestamp and nonce of a launch.
type Verifier interface {
	Verify(ctx context.Context, launch lti.Launch, method, baseURI, consumerKey, consumerSecret string) error
}

// Request is a launch as received over HTTP.
type Request struct {
	WimsID        string
	ItemID        string
	Method        string
	TrailingSlash bool
	// BaseURI is the normalized URL the consumer signed.
	BaseURI string
	Params  url.Values
}

// Result is where the user is sent after a successful launch.
type Result struct {
	RedirectURL string
	QClass      string
	SheetID     string
	Login       string
}

// Service runs class and activity launches end to end.
type Service struct {
	creds     Credentials
	classes   Classes
	connector wims.Connector
	verifier  Verifier
	logger    *zap.Logger
}

// New constructs a Service with required dependencies.
func New(creds Credentials, classes Classes, connector wims.Connector, verifier Verifier, logger *zap.Logger) *Service {
	if creds == nil {
		panic("credentials service is required")
	}
	if classes == nil {
		panic("classes resolver is required")
	}
	if connector == nil {
		panic("wims connector is required")
	}
	if verifier == nil {
		panic("launch verifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{creds: creds, classes: classes, connector: connector, verifier: verifier, logger: logger}
}

// LaunchClass opens the WIMS class bound to the launch's context, creating it for privileged users.
func (s *Service) LaunchClass(ctx context.Context, req Request) (Result, error) {
	return s.launch(ctx, req, false)
}

// LaunchActivity opens the sheet bound to the launch's resource link inside an existing class.
func (s *Service) LaunchActivity(ctx context.Context, req Request) (Result, error) {
	return s.launch(ctx, req, true)
}

func (s *Service) launch(ctx context.Context, req Request, activity bool) (Result, error) {
	if err := lti.CheckMethod(req.Method, req.TrailingSlash); err != nil {
		return Result{}, err
	}

	launch, err := lti.Parse(req.Params)
	if err != nil {
		return Result{}, err
	}
	ctx = logging.Enrich(ctx, s.logger,
		zap.String("wims_id", req.WimsID),
		zap.String("lti_consumer_key", launch.ConsumerKey),
		zap.String("lti_context_id", launch.ContextID),
		zap.String("lti_user_id", launch.UserID),
	)

	server, err := s.resolveWims(ctx, req.WimsID)
	if err != nil {
		return Result{}, err
	}
	lms, err := s.resolveLMS(ctx, launch)
	if err != nil {
		return Result{}, err
	}

	if err := s.verifier.Verify(ctx, launch, req.Method, req.BaseURI, lms.ConsumerKey, lms.ConsumerSecret); err != nil {
		return Result{}, err
	}
	requestID := requesttrace.FromContextOrAnonymous(ctx).RequestID
	ctx = requesttrace.IntoContext(ctx, requesttrace.Launch(lms.ConsumerKey, launch.UserID, requestID))

	sess, err := s.connector.Login(ctx, server.Remote())
	if err != nil {
		return Result{}, classsvc.UpstreamProblem(server.URL, err)
	}

	target := classsvc.Target{LMSID: lms.ID, LMSName: lms.Name, WimsID: server.ID}
	cls, err := s.classes.ResolveClass(ctx, sess, target, launch, !activity)
	if err != nil {
		return Result{}, err
	}

	var sheetID string
	if activity {
		act, err := s.classes.ResolveActivity(ctx, sess, cls, req.ItemID, launch)
		if err != nil {
			return Result{}, err
		}
		sheetID = act.SheetID
	}

	login, auth, err := s.openSession(ctx, sess, cls, launch)
	if err != nil {
		return Result{}, err
	}
	redirect, err := redirectURL(auth, server.URL, sheetID)
	if err != nil {
		return Result{}, err
	}

	// Only launches that reach WIMS move the outcome binding.
	s.classes.RecordOutcome(ctx, cls, launch)

	logging.FromContextOr(ctx, s.logger).Debug("launch bridged",
		zap.String("qclass", cls.QClass),
		zap.String("sheet_id", sheetID),
		zap.String("wims_login", login),
	)
	return Result{RedirectURL: redirect, QClass: cls.QClass, SheetID: sheetID, Login: login}, nil
}

func (s *Service) resolveWims(ctx context.Context, rawID string) (credsvc.WimsServer, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return credsvc.WimsServer{}, problems.New(problems.ErrNotFound, "Unknown WIMS server of id '%s'", rawID)
	}
	server, err := s.creds.ResolveWims(ctx, id)
	switch {
	case err == nil:
		return server, nil
	case errors.Is(err, credsvc.ErrNotFound):
		return credsvc.WimsServer{}, problems.Wrap(problems.ErrNotFound, err, "Unknown WIMS server of id '%s'", rawID)
	default:
		return credsvc.WimsServer{}, fmt.Errorf("resolve wims server: %w", err)
	}
}

// resolveLMS looks the consumer up by guid, or by consumer key when the launch sends no guid.
func (s *Service) resolveLMS(ctx context.Context, launch lti.Launch) (credsvc.LMS, error) {
	var (
		lms credsvc.LMS
		err error
	)
	if launch.ConsumerGUID != "" {
		lms, err = s.creds.ResolveLMS(ctx, launch.ConsumerGUID)
	} else {
		lms, err = s.creds.ResolveLMSByKey(ctx, launch.ConsumerKey)
	}
	switch {
	case err == nil:
		return lms, nil
	case errors.Is(err, credsvc.ErrNotFound) && launch.ConsumerGUID != "":
		return credsvc.LMS{}, problems.Wrap(problems.ErrNotFound, err, "No LMS found with uuid '%s'", launch.ConsumerGUID)
	case errors.Is(err, credsvc.ErrNotFound):
		return credsvc.LMS{}, problems.Wrap(problems.ErrNotFound, err, "No LMS found with consumer key '%s'", launch.ConsumerKey)
	default:
		return credsvc.LMS{}, fmt.Errorf("resolve lms: %w", err)
	}
}
