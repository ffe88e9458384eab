package service_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upem-wims/wims-lti/domains/classes/be/repo"
	"github.com/upem-wims/wims-lti/domains/classes/be/service"
	"github.com/upem-wims/wims-lti/platform/go/lti"
	"github.com/upem-wims/wims-lti/platform/go/metrics"
	"github.com/upem-wims/wims-lti/platform/go/problems"
	"github.com/upem-wims/wims-lti/platform/go/wims"
)

type fakeSession struct {
	createClassFn func(ctx context.Context, class wims.Class) (string, error)
	sheetExistsFn func(ctx context.Context, qclass, sheetID string) (bool, error)
	createSheetFn func(ctx context.Context, qclass string, sheet wims.Sheet) (string, error)

	createdClasses int32
	deleted        []string
	mu             sync.Mutex
}

func (f *fakeSession) Server() wims.Server { return wims.Server{URL: "https://wims.example.org/wims.cgi"} }

func (f *fakeSession) CreateClass(ctx context.Context, class wims.Class) (string, error) {
	n := atomic.AddInt32(&f.createdClasses, 1)
	if f.createClassFn != nil {
		return f.createClassFn(ctx, class)
	}
	return "900" + string(rune('0'+n)), nil
}

func (f *fakeSession) DeleteClass(_ context.Context, qclass string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, qclass)
	return nil
}

func (f *fakeSession) SheetExists(ctx context.Context, qclass, sheetID string) (bool, error) {
	if f.sheetExistsFn != nil {
		return f.sheetExistsFn(ctx, qclass, sheetID)
	}
	return false, nil
}

func (f *fakeSession) CreateSheet(ctx context.Context, qclass string, sheet wims.Sheet) (string, error) {
	if f.createSheetFn != nil {
		return f.createSheetFn(ctx, qclass, sheet)
	}
	return "7", nil
}

func (f *fakeSession) UserExists(context.Context, string, string) (bool, error) { return false, nil }
func (f *fakeSession) CreateUser(context.Context, string, wims.User) error    { return nil }
func (f *fakeSession) AuthUser(context.Context, string, string) (wims.AuthResult, error) {
	return wims.AuthResult{}, nil
}

func launchWith(t *testing.T, overrides map[string]string) lti.Launch {
	t.Helper()
	params := url.Values{
		"lti_message_type":                 {"basic-lti-launch-request"},
		"lti_version":                      {"LTI-1p0"},
		"resource_link_id":                 {"X"},
		"resource_link_title":              {"Week 1"},
		"context_id":                       {"77777"},
		"context_title":                    {"A title"},
		"user_id":                          {"77"},
		"roles":                            {"Instructor"},
		"lis_person_contact_email_primary": {"test@email.com"},
		"lis_person_name_given":            {"Jhon"},
		"lis_person_name_family":           {"Doe"},
		"launch_presentation_locale":       {"fr-FR"},
		"oauth_consumer_key":               {"provider1"},
		"oauth_signature_method":           {"HMAC-SHA1"},
		"oauth_timestamp":                  {"1700000000"},
		"oauth_nonce":                      {"n"},
		"oauth_signature":                  {"s"},
	}
	for k, v := range overrides {
		if v == "" {
			params.Del(k)
			continue
		}
		params.Set(k, v)
	}
	launch, err := lti.Parse(params)
	require.NoError(t, err)
	return launch
}

var target = service.Target{LMSID: 1, LMSName: "Moodle UPEM", WimsID: 1}

func newResolver(t *testing.T, r service.Repository, m *metrics.Metrics) *service.Resolver {
	t.Helper()
	return service.NewResolver(r, service.Config{
		Privileged:  lti.ParseRoleSet("Instructor,Administrator"),
		DefaultLang: "en",
		Metrics:     m,
		Logger:      zaptest.NewLogger(t),
		Now:         func() time.Time { return time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC) },
	})
}

func TestResolveClassCreatesOnceForPrivilegedLaunch(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	m := metrics.New(prometheus.NewRegistry())
	resolver := newResolver(t, mem, m)

	var got wims.Class
	sess := &fakeSession{createClassFn: func(_ context.Context, class wims.Class) (string, error) {
		got = class
		return "9001", nil
	}}

	first, err := resolver.ResolveClass(context.Background(), sess, target, launchWith(t, nil), true)
	require.NoError(t, err)
	second, err := resolver.ResolveClass(context.Background(), sess, target, launchWith(t, nil), true)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, "9001", first.QClass)
	require.Equal(t, int32(1), sess.createdClasses)
	require.Equal(t, 1, mem.ClassCount())
	require.Equal(t, 1.0, testutil.ToFloat64(m.ClassesCreated))

	require.Equal(t, "A title", got.Description)
	require.Equal(t, "Moodle UPEM", got.Institution)
	require.Equal(t, "fr", got.Lang)
	require.Equal(t, "supervisor", got.Supervisor.Login)
	require.Equal(t, "Jhon", got.Supervisor.FirstName)
	require.Len(t, got.Password, 16)
	require.True(t, got.Expiration.After(time.Date(2027, 8, 1, 0, 0, 0, 0, time.UTC)))
}

func TestResolveClassFallsBackToContextID(t *testing.T) {
	t.Parallel()

	var got wims.Class
	sess := &fakeSession{createClassFn: func(_ context.Context, class wims.Class) (string, error) {
		got = class
		return "9001", nil
	}}
	cls, err := newResolver(t, repo.NewMemoryRepository(), nil).
		ResolveClass(context.Background(), sess, target, launchWith(t, map[string]string{"context_title": "", "launch_presentation_locale": "xx"}), true)
	require.NoError(t, err)
	require.Equal(t, "77777", cls.Name)
	require.Equal(t, "77777", got.Description)
	require.Equal(t, "en", got.Lang)
}

func TestResolveClassLearnerIntoUnknownContext(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	_, err := newResolver(t, repo.NewMemoryRepository(), nil).
		ResolveClass(context.Background(), sess, target, launchWith(t, map[string]string{"roles": "Learner"}), true)

	require.ErrorIs(t, err, problems.ErrNotFound)
	require.EqualError(t, err, "Could not find class of id '77777'")
	require.Zero(t, sess.createdClasses)
}

func TestResolveClassWithoutCreationAllowed(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	_, err := newResolver(t, repo.NewMemoryRepository(), nil).
		ResolveClass(context.Background(), sess, target, launchWith(t, nil), false)
	require.ErrorIs(t, err, problems.ErrNotFound)
	require.Zero(t, sess.createdClasses)
}

func TestResolveClassConcurrentFirstLaunches(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	resolver := newResolver(t, mem, nil)
	sess := &fakeSession{createClassFn: func(context.Context, wims.Class) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "9001", nil
	}}

	const launches = 16
	launch := launchWith(t, nil)
	results := make([]service.Class, launches)
	errs := make([]error, launches)
	var wg sync.WaitGroup
	for i := 0; i < launches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = resolver.ResolveClass(context.Background(), sess, target, launch, true)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), sess.createdClasses)
	require.Equal(t, 1, mem.ClassCount())
	for _, cls := range results {
		require.Equal(t, results[0].ID, cls.ID)
	}
}

func TestResolveClassBoundToAnotherServer(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	seededClass(t, mem)
	sess := &fakeSession{}

	other := target
	other.WimsID = 2
	_, err := newResolver(t, mem, nil).ResolveClass(context.Background(), sess, other, launchWith(t, nil), true)

	require.ErrorIs(t, err, problems.ErrConflict)
	require.Equal(t, 409, problems.StatusCode(err))
	require.Equal(t, "Class of id '77777' is already bound to another WIMS server", problems.Message(err))
	require.Zero(t, sess.createdClasses)
	require.Equal(t, 1, mem.ClassCount())
}

func TestResolveClassSurvivesCancelledFirstCaller(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	resolver := newResolver(t, mem, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	sess := &fakeSession{createClassFn: func(ctx context.Context, _ wims.Class) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", &wims.UnreachableError{URL: "https://wims.example.org/wims.cgi", Cause: err}
		}
		return "9001", nil
	}}

	launch := launchWith(t, nil)
	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := resolver.ResolveClass(firstCtx, sess, target, launch, true)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	var second service.Class
	go func() {
		var err error
		second, err = resolver.ResolveClass(context.Background(), sess, target, launch, true)
		secondErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	require.NoError(t, <-secondErr)
	require.NoError(t, <-firstErr)
	require.Equal(t, "9001", second.QClass)
	require.Equal(t, int32(1), sess.createdClasses)
	require.Equal(t, 1, mem.ClassCount())
}

func TestResolveActivitySurvivesCancelledFirstCaller(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	cls := seededClass(t, mem)
	resolver := newResolver(t, mem, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	sess := &fakeSession{createSheetFn: func(ctx context.Context, _ string, _ wims.Sheet) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", &wims.UnreachableError{URL: "https://wims.example.org/wims.cgi", Cause: err}
		}
		return "3", nil
	}}

	launch := launchWith(t, nil)
	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := resolver.ResolveActivity(firstCtx, sess, cls, "", launch)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	var second service.Activity
	go func() {
		var err error
		second, err = resolver.ResolveActivity(context.Background(), sess, cls, "", launch)
		secondErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	require.NoError(t, <-secondErr)
	require.NoError(t, <-firstErr)
	require.Equal(t, "3", second.SheetID)
}

// racingRepo simulates another replica inserting the binding between our lookup and insert.
type racingRepo struct {
	*repo.MemoryRepository
	once sync.Once
}

func (r *racingRepo) InsertClass(ctx context.Context, c service.Class) (service.Class, error) {
	r.once.Do(func() {
		winner := c
		winner.QClass = "8000"
		_, _ = r.MemoryRepository.InsertClass(ctx, winner)
	})
	return r.MemoryRepository.InsertClass(ctx, c)
}

func TestResolveClassRaceLoserReusesWinnerAndDropsOrphan(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	resolver := newResolver(t, &racingRepo{MemoryRepository: repo.NewMemoryRepository()}, m)
	sess := &fakeSession{createClassFn: func(context.Context, wims.Class) (string, error) { return "9001", nil }}

	cls, err := resolver.ResolveClass(context.Background(), sess, target, launchWith(t, nil), true)
	require.NoError(t, err)
	require.Equal(t, "8000", cls.QClass)
	require.Equal(t, []string{"9001"}, sess.deleted)
	require.Equal(t, 1.0, testutil.ToFloat64(m.RaceRecoveries))
	require.Equal(t, 0.0, testutil.ToFloat64(m.ClassesCreated))
}

type failingInsertRepo struct {
	*repo.MemoryRepository
}

func (failingInsertRepo) InsertClass(context.Context, service.Class) (service.Class, error) {
	return service.Class{}, errors.New("connection reset")
}

func TestResolveClassInsertFailureDeletesRemoteClass(t *testing.T) {
	t.Parallel()

	resolver := newResolver(t, failingInsertRepo{repo.NewMemoryRepository()}, nil)
	sess := &fakeSession{createClassFn: func(context.Context, wims.Class) (string, error) { return "9001", nil }}

	_, err := resolver.ResolveClass(context.Background(), sess, target, launchWith(t, nil), true)
	require.Error(t, err)
	require.Equal(t, 500, problems.StatusCode(err))
	require.Equal(t, []string{"9001"}, sess.deleted)
}

func TestResolveClassUpstreamFailuresPersistNothing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"identification", &wims.IdentificationError{Message: "Identification Failure : bad login/pwd"}, 502, "Identification Failure : bad login/pwd"},
		{"unreachable", &wims.UnreachableError{URL: "https://wims.example.org/wims.cgi", Cause: errors.New("dial")}, 504, "Could not join the WIMS server 'https://wims.example.org/wims.cgi'"},
		{"api", &wims.APIError{Job: "addclass", Message: "quota"}, 502, "WIMS server 'https://wims.example.org/wims.cgi' refused addclass: quota"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mem := repo.NewMemoryRepository()
			sess := &fakeSession{createClassFn: func(context.Context, wims.Class) (string, error) { return "", tc.err }}

			_, err := newResolver(t, mem, nil).ResolveClass(context.Background(), sess, target, launchWith(t, nil), true)
			require.Equal(t, tc.status, problems.StatusCode(err))
			require.Equal(t, tc.msg, problems.Message(err))
			require.Zero(t, mem.ClassCount())
			require.Empty(t, sess.deleted)
		})
	}
}

func seededClass(t *testing.T, mem *repo.MemoryRepository) service.Class {
	t.Helper()
	cls, err := mem.InsertClass(context.Background(), service.Class{LMSID: 1, LMSContextID: "77777", WimsID: 1, QClass: "9001", Name: "A title"})
	require.NoError(t, err)
	return cls
}

func TestResolveActivityBindsExistingSheet(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	cls := seededClass(t, mem)
	var lookups int32
	sess := &fakeSession{sheetExistsFn: func(_ context.Context, qclass, sheetID string) (bool, error) {
		atomic.AddInt32(&lookups, 1)
		return qclass == "9001" && sheetID == "1", nil
	}}
	resolver := newResolver(t, mem, nil)

	for i := 0; i < 2; i++ {
		act, err := resolver.ResolveActivity(context.Background(), sess, cls, "1", launchWith(t, map[string]string{"roles": "Learner"}))
		require.NoError(t, err)
		require.Equal(t, "1", act.SheetID)
	}
	require.Equal(t, int32(1), lookups)
}

func TestResolveActivityCreatesSheetForPrivileged(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	cls := seededClass(t, mem)
	var title string
	sess := &fakeSession{createSheetFn: func(_ context.Context, _ string, sheet wims.Sheet) (string, error) {
		title = sheet.Title
		return "3", nil
	}}

	act, err := newResolver(t, mem, nil).ResolveActivity(context.Background(), sess, cls, "42", launchWith(t, nil))
	require.NoError(t, err)
	require.Equal(t, "3", act.SheetID)
	require.Equal(t, "Week 1", title)
}

func TestResolveActivityLearnerMissingSheet(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	cls := seededClass(t, mem)

	_, err := newResolver(t, mem, nil).ResolveActivity(context.Background(), &fakeSession{}, cls, "42", launchWith(t, map[string]string{"roles": "Learner"}))
	require.ErrorIs(t, err, problems.ErrNotFound)
	require.EqualError(t, err, "Could not find sheet of id '42' in class '9001'")
}

type failingOutcomeRepo struct {
	*repo.MemoryRepository
}

func (failingOutcomeRepo) UpsertOutcome(context.Context, service.Outcome) (service.Outcome, error) {
	return service.Outcome{}, errors.New("disk full")
}

func TestRecordOutcome(t *testing.T) {
	t.Parallel()

	mem := repo.NewMemoryRepository()
	cls := seededClass(t, mem)
	resolver := newResolver(t, mem, nil)

	resolver.RecordOutcome(context.Background(), cls, launchWith(t, nil))
	_, ok := mem.Outcome(cls.ID, "X")
	require.False(t, ok)

	resolver.RecordOutcome(context.Background(), cls, launchWith(t, map[string]string{
		"lis_outcome_service_url": "www.outcom.com", "lis_result_sourcedid": "first",
	}))
	resolver.RecordOutcome(context.Background(), cls, launchWith(t, map[string]string{
		"lis_outcome_service_url": "www.outcom.com", "lis_result_sourcedid": "second", "user_id": "78",
	}))
	out, ok := mem.Outcome(cls.ID, "X")
	require.True(t, ok)
	require.Equal(t, "second", out.ResultSourcedID)
	require.Equal(t, "78", out.LMSUserID)

	m := metrics.New(prometheus.NewRegistry())
	require.NotPanics(t, func() {
		newResolver(t, failingOutcomeRepo{mem}, m).RecordOutcome(context.Background(), cls, launchWith(t, map[string]string{
			"lis_outcome_service_url": "www.outcom.com", "lis_result_sourcedid": "third",
		}))
	})
	require.Equal(t, 1.0, testutil.ToFloat64(m.OutcomeFailures))
}
