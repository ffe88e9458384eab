package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/upem-wims/wims-lti/platform/go/wims"
)

// Errors returned by the service layer.
var (
	ErrNotFound   = errors.New("credential not found")
	ErrConflict   = errors.New("credential already exists")
	ErrValidation = errors.New("invalid credential")
)

// LMS is a registered tool consumer.
type LMS struct {
	ID             int64
	UUID           string
	URL            string
	Name           string
	ConsumerKey    string
	ConsumerSecret string
	CreatedAt      time.Time
}

// WimsServer is a WIMS server launches can target by id.
type WimsServer struct {
	ID        int64
	URL       string
	Name      string
	Ident     string
	Passwd    string
	RClass    string
	CreatedAt time.Time
}

// Remote returns the connection credentials used by the WIMS client.
func (w WimsServer) Remote() wims.Server {
	return wims.Server{URL: w.URL, Ident: w.Ident, Passwd: w.Passwd, RClass: w.RClass}
}

// RegisterLMSInput is what an administrator supplies to register an LMS.
type RegisterLMSInput struct {
	UUID           string
	URL            string
	Name           string
	ConsumerKey    string
	ConsumerSecret string
}

// RegisterWimsInput is what an administrator supplies to register a WIMS server.
type RegisterWimsInput struct {
	URL    string
	Name   string
	Ident  string
	Passwd string
	RClass string
}

// Repository abstracts persistence.
type Repository interface {
	GetWims(ctx context.Context, id int64) (WimsServer, error)
	GetLMSByUUID(ctx context.Context, uuid string) (LMS, error)
	GetLMSByKey(ctx context.Context, consumerKey string) (LMS, error)
	CreateLMS(ctx context.Context, lms LMS) (LMS, error)
	CreateWims(ctx context.Context, w WimsServer) (WimsServer, error)
	ListLMS(ctx context.Context) ([]LMS, error)
	ListWims(ctx context.Context) ([]WimsServer, error)
}

// Service resolves and registers LMS and WIMS credentials. Launches only read.
type Service struct {
	repo Repository
}

// New constructs a Service with required dependencies.
func New(repo Repository) *Service {
	if repo == nil {
		panic("credentials repo is required")
	}
	return &Service{repo: repo}
}

func (s *Service) ResolveWims(ctx context.Context, id int64) (WimsServer, error) {
	return s.repo.GetWims(ctx, id)
}

// ResolveLMS looks an LMS up by tool_consumer_instance_guid.
func (s *Service) ResolveLMS(ctx context.Context, guid string) (LMS, error) {
	if strings.TrimSpace(guid) == "" {
		return LMS{}, ErrNotFound
	}
	return s.repo.GetLMSByUUID(ctx, guid)
}

// ResolveLMSByKey looks an LMS up by OAuth consumer key, for consumers that send no guid.
func (s *Service) ResolveLMSByKey(ctx context.Context, consumerKey string) (LMS, error) {
	if strings.TrimSpace(consumerKey) == "" {
		return LMS{}, ErrNotFound
	}
	return s.repo.GetLMSByKey(ctx, consumerKey)
}

// RegisterLMS validates and stores a new LMS. Duplicate uuid or consumer key yield ErrConflict.
func (s *Service) RegisterLMS(ctx context.Context, in RegisterLMSInput) (LMS, error) {
	in.UUID = strings.TrimSpace(in.UUID)
	in.Name = strings.TrimSpace(in.Name)
	in.ConsumerKey = strings.TrimSpace(in.ConsumerKey)

	switch {
	case in.UUID == "":
		return LMS{}, fmt.Errorf("%w: uuid is required", ErrValidation)
	case in.Name == "":
		return LMS{}, fmt.Errorf("%w: name is required", ErrValidation)
	case in.ConsumerKey == "":
		return LMS{}, fmt.Errorf("%w: consumer key is required", ErrValidation)
	case in.ConsumerSecret == "":
		return LMS{}, fmt.Errorf("%w: consumer secret is required", ErrValidation)
	}
	if err := validateHTTPURL(in.URL); err != nil {
		return LMS{}, err
	}

	return s.repo.CreateLMS(ctx, LMS{
		UUID:           in.UUID,
		URL:            strings.TrimSpace(in.URL),
		Name:           in.Name,
		ConsumerKey:    in.ConsumerKey,
		ConsumerSecret: in.ConsumerSecret,
	})
}

// RegisterWims validates and stores a WIMS server. Credentials are checked on first launch.
func (s *Service) RegisterWims(ctx context.Context, in RegisterWimsInput) (WimsServer, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.RClass = strings.TrimSpace(in.RClass)

	switch {
	case in.Name == "":
		return WimsServer{}, fmt.Errorf("%w: name is required", ErrValidation)
	case in.Ident == "" || in.Passwd == "":
		return WimsServer{}, fmt.Errorf("%w: ident and passwd are required", ErrValidation)
	case in.RClass == "":
		return WimsServer{}, fmt.Errorf("%w: rclass is required", ErrValidation)
	}
	if err := validateHTTPURL(in.URL); err != nil {
		return WimsServer{}, err
	}

	return s.repo.CreateWims(ctx, WimsServer{
		URL:    strings.TrimSpace(in.URL),
		Name:   in.Name,
		Ident:  in.Ident,
		Passwd: in.Passwd,
		RClass: in.RClass,
	})
}

func (s *Service) ListLMS(ctx context.Context) ([]LMS, error) {
	return s.repo.ListLMS(ctx)
}

func (s *Service) ListWims(ctx context.Context) ([]WimsServer, error) {
	return s.repo.ListWims(ctx)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url %q must be an absolute http(s) URL", ErrValidation, raw)
	}
	return nil
}
