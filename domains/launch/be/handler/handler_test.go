package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upem-wims/wims-lti/domains/launch/be/service"
	"github.com/upem-wims/wims-lti/platform/go/lti"
	"github.com/upem-wims/wims-lti/platform/go/metrics"
	"github.com/upem-wims/wims-lti/platform/go/problems"
)

type mockLauncher struct {
	classFn    func(ctx context.Context, req service.Request) (service.Result, error)
	activityFn func(ctx context.Context, req service.Request) (service.Result, error)
}

func (m *mockLauncher) LaunchClass(ctx context.Context, req service.Request) (service.Result, error) {
	if m.classFn == nil {
		panic("classFn not configured")
	}
	return m.classFn(ctx, req)
}

func (m *mockLauncher) LaunchActivity(ctx context.Context, req service.Request) (service.Result, error) {
	if m.activityFn == nil {
		panic("activityFn not configured")
	}
	return m.activityFn(ctx, req)
}

func newRouter(t *testing.T, svc Launcher, m *metrics.Metrics, publicBase string) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/lti", New(svc, zaptest.NewLogger(t), m, publicBase).Routes)
	return r
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestClassLaunchRedirects(t *testing.T) {
	var got service.Request
	svc := &mockLauncher{classFn: func(ctx context.Context, req service.Request) (service.Result, error) {
		got = req
		return service.Result{RedirectURL: "https://wims.example.org/wims/wims.cgi?session=ABC"}, nil
	}}
	m := metrics.New(prometheus.NewRegistry())

	resp := httptest.NewRecorder()
	newRouter(t, svc, m, "").ServeHTTP(resp, postForm("/lti/3/?extra=1", url.Values{"context_id": {"course-42"}}))

	require.Equal(t, http.StatusFound, resp.Code)
	require.Equal(t, "https://wims.example.org/wims/wims.cgi?session=ABC", resp.Header().Get("Location"))

	require.Equal(t, "3", got.WimsID)
	require.Empty(t, got.ItemID)
	require.True(t, got.TrailingSlash)
	require.Equal(t, http.MethodPost, got.Method)
	require.Equal(t, "http://example.com/lti/3/", got.BaseURI)
	require.Equal(t, "course-42", got.Params.Get("context_id"))
	require.Equal(t, "1", got.Params.Get("extra"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.Launches.WithLabelValues(metrics.EndpointClass, metrics.OutcomeRedirected)))
}

func TestActivityLaunchUsesPublicBase(t *testing.T) {
	var got service.Request
	svc := &mockLauncher{activityFn: func(ctx context.Context, req service.Request) (service.Result, error) {
		got = req
		return service.Result{RedirectURL: "https://wims.example.org/?sh=1"}, nil
	}}

	resp := httptest.NewRecorder()
	newRouter(t, svc, nil, "https://lti.example.org/bridge/").ServeHTTP(resp, postForm("/lti/3/1/", url.Values{}))

	require.Equal(t, http.StatusFound, resp.Code)
	require.Equal(t, "3", got.WimsID)
	require.Equal(t, "1", got.ItemID)
	require.Equal(t, "https://lti.example.org/bridge/lti/3/1/", got.BaseURI)
}

func TestSlashlessRoutesReachTheService(t *testing.T) {
	var slashes []bool
	svc := &mockLauncher{
		classFn: func(ctx context.Context, req service.Request) (service.Result, error) {
			slashes = append(slashes, req.TrailingSlash)
			return service.Result{}, lti.CheckMethod(req.Method, req.TrailingSlash)
		},
		activityFn: func(ctx context.Context, req service.Request) (service.Result, error) {
			slashes = append(slashes, req.TrailingSlash)
			return service.Result{}, lti.CheckMethod(req.Method, req.TrailingSlash)
		},
	}
	router := newRouter(t, svc, nil, "")

	for _, target := range []string{"/lti/3", "/lti/3/1"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, postForm(target, url.Values{}))
		require.Equal(t, http.StatusMethodNotAllowed, resp.Code, target)
		require.Contains(t, resp.Body.String(), "Did you forget trailing '/' ?")
	}
	require.Equal(t, []bool{false, false}, slashes)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/lti/3/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	require.Equal(t, "405 Method Not Allowed: 'GET'. Did you forget trailing '/' ?\n", resp.Body.String())
}

func TestErrorsRenderPlainText(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		body    string
		outcome string
	}{
		{
			name:    "invalid launch",
			err:     problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, missing parameter(s): user_id"),
			status:  http.StatusBadRequest,
			body:    "LTI request is invalid, missing parameter(s): user_id",
			outcome: metrics.OutcomeRejected,
		},
		{
			name:    "not found",
			err:     problems.New(problems.ErrNotFound, "Unknown WIMS server of id '9'"),
			status:  http.StatusNotFound,
			body:    "Unknown WIMS server of id '9'",
			outcome: metrics.OutcomeRejected,
		},
		{
			name:    "upstream auth",
			err:     problems.New(problems.ErrUpstreamAuth, "Identification Failure : bad login/pwd"),
			status:  http.StatusBadGateway,
			body:    "Identification Failure : bad login/pwd",
			outcome: metrics.OutcomeFailed,
		},
		{
			name:    "upstream unreachable",
			err:     problems.New(problems.ErrUpstreamUnreachable, "Could not join the WIMS server 'http://wims.invalid'"),
			status:  http.StatusGatewayTimeout,
			body:    "Could not join the WIMS server 'http://wims.invalid'",
			outcome: metrics.OutcomeFailed,
		},
		{
			name:    "internal errors are hidden",
			err:     errors.New("pgx: connection refused"),
			status:  http.StatusInternalServerError,
			body:    "Internal server error",
			outcome: metrics.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLauncher{classFn: func(ctx context.Context, req service.Request) (service.Result, error) {
				return service.Result{}, tt.err
			}}
			m := metrics.New(prometheus.NewRegistry())

			resp := httptest.NewRecorder()
			newRouter(t, svc, m, "").ServeHTTP(resp, postForm("/lti/1/", url.Values{}))

			require.Equal(t, tt.status, resp.Code)
			require.Equal(t, "text/plain; charset=utf-8", resp.Header().Get("Content-Type"))
			require.Equal(t, tt.body+"\n", resp.Body.String())
			require.Equal(t, 1.0, testutil.ToFloat64(m.Launches.WithLabelValues(metrics.EndpointClass, tt.outcome)))
		})
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	svc := &mockLauncher{}
	big := url.Values{"blob": {strings.Repeat("a", maxFormBytes+1)}}

	resp := httptest.NewRecorder()
	newRouter(t, svc, nil, "").ServeHTTP(resp, postForm("/lti/1/", big))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "malformed form body")
}
