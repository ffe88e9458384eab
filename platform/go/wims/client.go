package wims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upem-wims/wims-lti/platform/go/logging"
	"github.com/upem-wims/wims-lti/platform/go/metrics"
)

const (
	statusOK    = "OK"
	statusError = "ERROR"

	identificationFailure = "Identification Failure"

	maxResponseBytes = 1 << 20
)

// HTTPDoer is the part of *http.Client the WIMS client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Connector opens admin sessions on WIMS servers.
type Connector interface {
	Login(ctx context.Context, srv Server) (Session, error)
}

// Session is an authenticated administrative view of one WIMS server.
type Session interface {
	Server() Server
	CreateClass(ctx context.Context, class Class) (qclass string, err error)
	DeleteClass(ctx context.Context, qclass string) error
	SheetExists(ctx context.Context, qclass, sheetID string) (bool, error)
	CreateSheet(ctx context.Context, qclass string, sheet Sheet) (sheetID string, err error)
	UserExists(ctx context.Context, qclass, login string) (bool, error)
	CreateUser(ctx context.Context, qclass string, user User) error
	AuthUser(ctx context.Context, qclass, login string) (AuthResult, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	HTTPClient HTTPDoer
	Timeout    time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Client talks adm/raw to any number of WIMS servers.
type Client struct {
	http    HTTPDoer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewClient builds a Client. Timeout defaults to 10s and only applies when no HTTPClient is given.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: doer, metrics: cfg.Metrics, logger: logger}
}

// Login validates the admin credentials with checkident.
func (c *Client) Login(ctx context.Context, srv Server) (Session, error) {
	if _, err := c.call(ctx, srv, "checkident", nil); err != nil {
		return nil, err
	}
	return &adminSession{client: c, srv: srv}, nil
}

type response map[string]any

func (r response) str(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (c *Client) call(ctx context.Context, srv Server, job string, params url.Values) (resp response, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrUnreachable):
			result = "unreachable"
		case err != nil:
			result = "error"
		}
		c.metrics.ObserveUpstream(job, result, time.Since(start))
		logging.FromContextOr(ctx, c.logger).Debug("wims call",
			zap.String("wims_url", srv.URL),
			zap.String("job", job),
			zap.String("result", result),
			zap.Duration("elapsed", time.Since(start)),
		)
	}()

	target, err := url.Parse(srv.URL)
	if err != nil {
		return nil, &UnreachableError{URL: srv.URL, Cause: err}
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("module", "adm/raw")
	q.Set("job", job)
	q.Set("ident", srv.Ident)
	q.Set("passwd", srv.Passwd)
	q.Set("code", uuid.NewString())
	if srv.RClass != "" && q.Get("rclass") == "" {
		q.Set("rclass", srv.RClass)
	}
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &UnreachableError{URL: srv.URL, Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &UnreachableError{URL: srv.URL, Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, &UnreachableError{URL: srv.URL, Cause: fmt.Errorf("unexpected status %d", httpResp.StatusCode)}
	}

	dec := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, &UnreachableError{URL: srv.URL, Cause: fmt.Errorf("decode adm/raw response: %w", err)}
	}

	switch resp.str("status") {
	case statusOK:
		return resp, nil
	case statusError:
		msg := resp.str("message")
		if strings.HasPrefix(msg, identificationFailure) {
			return nil, &IdentificationError{Message: msg}
		}
		return nil, &APIError{Job: job, Message: msg}
	default:
		return nil, &UnreachableError{URL: srv.URL, Cause: fmt.Errorf("unexpected adm/raw status %q", resp.str("status"))}
	}
}
