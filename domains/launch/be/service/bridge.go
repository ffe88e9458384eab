package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	classsvc "github.com/upem-wims/wims-lti/domains/classes/be/service"
	"github.com/upem-wims/wims-lti/platform/go/logging"
	"github.com/upem-wims/wims-lti/platform/go/lti"
	"github.com/upem-wims/wims-lti/platform/go/requesttrace"
	"github.com/upem-wims/wims-lti/platform/go/wims"
)

const (
	supervisorLogin = "supervisor"
	maxLoginLength  = 20
	loginHashLength = 8
)

// LearnerLogin derives a WIMS login from an LMS user id: lowercase ASCII letters and digits only,
// starting with a letter, at most 20 characters. It never yields the supervisor login. Ids that
// do not survive the filtering unchanged get a hash of the raw id appended, so distinct ids keep
// distinct accounts.
func LearnerLogin(userID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(userID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	login := b.String()
	if login == "" || login[0] < 'a' || login[0] > 'z' || login == supervisorLogin {
		login = "u" + login
	}
	if login == userID && len(login) <= maxLoginLength {
		return login
	}

	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID)).String()[:loginHashLength]
	if len(login) > maxLoginLength-loginHashLength {
		login = login[:maxLoginLength-loginHashLength]
	}
	return login + sum
}

// openSession picks the WIMS account for the launch, provisioning learners on first use,
// and authenticates it inside the class.
func (s *Service) openSession(ctx context.Context, sess wims.Session, cls classsvc.Class, launch lti.Launch) (string, wims.AuthResult, error) {
	login := supervisorLogin
	if !s.classes.IsPrivileged(launch) {
		login = LearnerLogin(launch.UserID)
		if err := s.ensureUser(ctx, sess, cls.QClass, login, launch); err != nil {
			return "", wims.AuthResult{}, err
		}
	}

	auth, err := sess.AuthUser(ctx, cls.QClass, login)
	if err != nil {
		return "", wims.AuthResult{}, classsvc.UpstreamProblem(sess.Server().URL, err)
	}
	return login, auth, nil
}

func (s *Service) ensureUser(ctx context.Context, sess wims.Session, qclass, login string, launch lti.Launch) error {
	baseURL := sess.Server().URL

	exists, err := sess.UserExists(ctx, qclass, login)
	if err != nil {
		return classsvc.UpstreamProblem(baseURL, err)
	}
	if exists {
		return nil
	}

	user := wims.User{
		Login:     login,
		FirstName: fallback(launch.GivenName, login),
		LastName:  fallback(launch.FamilyName, login),
		Password:  strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Email:     launch.Email,
	}
	err = sess.CreateUser(ctx, qclass, user)
	if err == nil {
		logging.FromContextOr(ctx, s.logger).Info("wims user created", append(requesttrace.FromContextOrAnonymous(ctx).Fields(),
			zap.String("qclass", qclass),
			zap.String("wims_login", login),
		)...)
		return nil
	}

	// Two first launches of the same learner race on adduser; the loser finds the account.
	var api *wims.APIError
	if errors.As(err, &api) {
		if again, checkErr := sess.UserExists(ctx, qclass, login); checkErr == nil && again {
			return nil
		}
	}
	return classsvc.UpstreamProblem(baseURL, err)
}

// redirectURL is the WIMS home of the session, pointed at the sheet for activity launches.
func redirectURL(auth wims.AuthResult, baseURL, sheetID string) (string, error) {
	target := auth.HomeURL
	if target == "" {
		target = baseURL + "?session=" + url.QueryEscape(auth.SessionID)
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse wims session url: %w", err)
	}
	if sheetID != "" {
		q := u.Query()
		q.Set("module", "adm/sheet")
		q.Set("sh", sheetID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
