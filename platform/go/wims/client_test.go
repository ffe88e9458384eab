package wims

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upem-wims/wims-lti/platform/go/metrics"
	"github.com/upem-wims/wims-lti/platform/go/wims/wimstest"
)

func newTestClient(t *testing.T, m *metrics.Metrics) *Client {
	t.Helper()
	return NewClient(ClientConfig{Timeout: 5 * time.Second, Metrics: m, Logger: zaptest.NewLogger(t)})
}

func testServer(fake *wimstest.Server) Server {
	return Server{URL: fake.URL, Ident: wimstest.Ident, Passwd: wimstest.Passwd, RClass: wimstest.RClass}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	fake := wimstest.New()
	defer fake.Close()

	srv := testServer(fake)
	srv.Passwd = "wrong"

	_, err := newTestClient(t, nil).Login(context.Background(), srv)
	require.ErrorIs(t, err, ErrIdentification)
	require.Equal(t, wimstest.IdentificationFailure, err.Error())
}

func TestLoginUnreachable(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL + "/wims/wims.cgi"
	down.Close()

	_, err := newTestClient(t, nil).Login(context.Background(), Server{URL: url, Ident: "x", Passwd: "y"})
	require.ErrorIs(t, err, ErrUnreachable)

	var unreachable *UnreachableError
	require.True(t, errors.As(err, &unreachable))
	require.Equal(t, url, unreachable.URL)
}

func TestNonJSONAnswerIsUnreachable(t *testing.T) {
	t.Parallel()

	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not wims</html>"))
	}))
	defer html.Close()

	_, err := newTestClient(t, nil).Login(context.Background(), Server{URL: html.URL, Ident: "x", Passwd: "y"})
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	fake := wimstest.New()
	defer fake.Close()

	m := metrics.New(prometheus.NewRegistry())
	ctx := context.Background()
	sess, err := newTestClient(t, m).Login(ctx, testServer(fake))
	require.NoError(t, err)
	require.Equal(t, fake.URL, sess.Server().URL)

	qclass, err := sess.CreateClass(ctx, Class{
		Description: "A title",
		Institution: "Moodle UPEM",
		Email:       "test@email.com",
		Password:    "pw",
		Lang:        "fr",
		Expiration:  time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC),
		Supervisor:  User{Login: "supervisor", FirstName: "Jhon", LastName: "Doe", Password: "pw", Email: "test@email.com"},
	})
	require.NoError(t, err)
	require.True(t, fake.HasClass(qclass))
	cfg := fake.ClassConfig(qclass)
	require.Equal(t, "A title", cfg["description"])
	require.Equal(t, "20270102", cfg["expiration"])
	require.Equal(t, "Jhon Doe", cfg["supervisor"])

	exists, err := sess.SheetExists(ctx, qclass, "1")
	require.NoError(t, err)
	require.False(t, exists)

	sheetID, err := sess.CreateSheet(ctx, qclass, Sheet{Title: "Week 1"})
	require.NoError(t, err)
	require.Equal(t, "1", sheetID)

	exists, err = sess.SheetExists(ctx, qclass, sheetID)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = sess.UserExists(ctx, qclass, "u77")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, sess.CreateUser(ctx, qclass, User{Login: "u77", FirstName: "Jhon", LastName: "Doe", Password: "pw"}))
	require.Equal(t, "Doe", fake.User(qclass, "u77")["lastname"])

	auth, err := sess.AuthUser(ctx, qclass, "u77")
	require.NoError(t, err)
	require.NotEmpty(t, auth.SessionID)
	require.Contains(t, auth.HomeURL, fake.URL)

	require.NoError(t, sess.DeleteClass(ctx, qclass))
	require.False(t, fake.HasClass(qclass))

	require.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("checkident", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("getsheet", "error")))
}

func TestAPIErrorsSurface(t *testing.T) {
	t.Parallel()

	fake := wimstest.New()
	defer fake.Close()
	fake.FailJob("addclass", "too many classes")

	sess, err := newTestClient(t, nil).Login(context.Background(), testServer(fake))
	require.NoError(t, err)

	_, err = sess.CreateClass(context.Background(), Class{Description: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "addclass", apiErr.Job)
	require.Equal(t, "too many classes", apiErr.Message)
	require.NotErrorIs(t, err, ErrIdentification)
}

func TestExistsPropagatesIdentificationFailure(t *testing.T) {
	t.Parallel()

	fake := wimstest.New()
	defer fake.Close()
	qclass := fake.SeedClass("seeded")

	srv := testServer(fake)
	sess := &adminSession{client: newTestClient(t, nil), srv: Server{URL: srv.URL, Ident: srv.Ident, Passwd: "rotated"}}

	_, err := sess.SheetExists(context.Background(), qclass, "1")
	require.ErrorIs(t, err, ErrIdentification)
}

func TestEncodeConfigFlattensNewlines(t *testing.T) {
	t.Parallel()

	require.Equal(t, "title=a b\ndescription=", encodeConfig("title", "a\nb", "description", ""))
}
