// Package wims is a client for the adm/raw JSON API of WIMS servers.
package wims

import (
	"strings"
	"time"
)

// Server holds the connection credentials of one WIMS server.
type Server struct {
	URL    string
	Ident  string
	Passwd string
	RClass string
}

// User is a WIMS account inside a class. Login is the quser identifier.
type User struct {
	Login     string
	FirstName string
	LastName  string
	Password  string
	Email     string
}

// Class describes a class to create.
type Class struct {
	Description string
	Institution string
	Email       string
	Password    string
	Lang        string
	Expiration  time.Time
	Supervisor  User
}

// Sheet describes an exercise sheet to create.
type Sheet struct {
	Title       string
	Description string
}

// AuthResult is what authuser returns: a session id and the landing URL carrying it.
type AuthResult struct {
	SessionID string
	HomeURL   string
}

// encodeConfig renders WIMS' key=value line format used in data1/data2.
func encodeConfig(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(strings.NewReplacer("\n", " ", "\r", " ").Replace(pairs[i+1]))
	}
	return b.String()
}

func (u User) config() string {
	return encodeConfig(
		"lastname", u.LastName,
		"firstname", u.FirstName,
		"password", u.Password,
		"email", u.Email,
	)
}

func (c Class) config() string {
	return encodeConfig(
		"description", c.Description,
		"institution", c.Institution,
		"supervisor", strings.TrimSpace(c.Supervisor.FirstName+" "+c.Supervisor.LastName),
		"email", c.Email,
		"password", c.Password,
		"lang", c.Lang,
		"expiration", c.Expiration.Format("20060102"),
		"limit", "500",
		"level", "H4",
		"secure", "all",
	)
}

func (s Sheet) config() string {
	return encodeConfig(
		"title", s.Title,
		"description", s.Description,
	)
}
