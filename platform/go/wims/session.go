package wims

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

type adminSession struct {
	client *Client
	srv    Server
}

func (s *adminSession) Server() Server { return s.srv }

func (s *adminSession) CreateClass(ctx context.Context, class Class) (string, error) {
	resp, err := s.client.call(ctx, s.srv, "addclass", url.Values{
		"data1": {class.config()},
		"data2": {class.Supervisor.config()},
	})
	if err != nil {
		return "", err
	}
	id := resp.str("class_id")
	if id == "" {
		return "", &APIError{Job: "addclass", Message: "response carries no class_id"}
	}
	return id, nil
}

func (s *adminSession) DeleteClass(ctx context.Context, qclass string) error {
	_, err := s.client.call(ctx, s.srv, "delclass", url.Values{"qclass": {qclass}})
	return err
}

func (s *adminSession) SheetExists(ctx context.Context, qclass, sheetID string) (bool, error) {
	return s.exists(ctx, "getsheet", url.Values{"qclass": {qclass}, "qsheet": {sheetID}})
}

func (s *adminSession) CreateSheet(ctx context.Context, qclass string, sheet Sheet) (string, error) {
	resp, err := s.client.call(ctx, s.srv, "addsheet", url.Values{
		"qclass": {qclass},
		"data1":  {sheet.config()},
	})
	if err != nil {
		return "", err
	}
	id := resp.str("sheet_id")
	if id == "" {
		return "", &APIError{Job: "addsheet", Message: "response carries no sheet_id"}
	}
	return id, nil
}

func (s *adminSession) UserExists(ctx context.Context, qclass, login string) (bool, error) {
	return s.exists(ctx, "getuser", url.Values{"qclass": {qclass}, "quser": {login}})
}

func (s *adminSession) CreateUser(ctx context.Context, qclass string, user User) error {
	_, err := s.client.call(ctx, s.srv, "adduser", url.Values{
		"qclass": {qclass},
		"quser":  {user.Login},
		"data1":  {user.config()},
	})
	return err
}

func (s *adminSession) AuthUser(ctx context.Context, qclass, login string) (AuthResult, error) {
	resp, err := s.client.call(ctx, s.srv, "authuser", url.Values{
		"qclass": {qclass},
		"quser":  {login},
	})
	if err != nil {
		return AuthResult{}, err
	}
	out := AuthResult{SessionID: resp.str("wims_session"), HomeURL: resp.str("home_url")}
	if out.SessionID == "" {
		return AuthResult{}, &APIError{Job: "authuser", Message: "response carries no wims_session"}
	}
	return out, nil
}

// exists treats an adm/raw ERROR on a get* job as "not there"; identification and transport
// failures are still errors.
func (s *adminSession) exists(ctx context.Context, job string, params url.Values) (bool, error) {
	_, err := s.client.call(ctx, s.srv, job, params)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false, nil
	}
	return false, fmt.Errorf("%s: %w", job, err)
}
