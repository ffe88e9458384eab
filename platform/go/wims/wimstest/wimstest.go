// Package wimstest runs an in-memory adm/raw endpoint for tests.
package wimstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

const (
	Ident  = "myself"
	Passwd = "toto"
	RClass = "myclass"

	IdentificationFailure = "Identification Failure : bad login/pwd"
)

type class struct {
	config     map[string]string
	supervisor map[string]string
	sheets     map[string]map[string]string
	users      map[string]map[string]string
	nextSheet  int
}

// Server is a fake WIMS. URL points at its wims.cgi.
type Server struct {
	URL string

	srv *httptest.Server

	mu        sync.Mutex
	nextClass int
	classes   map[string]*class
	calls     map[string]int
	failures  map[string]string
}

// New starts a fake WIMS accepting Ident/Passwd.
func New() *Server {
	s := &Server{
		nextClass: 9001,
		classes:   map[string]*class{},
		calls:     map[string]int{},
		failures:  map[string]string{},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = s.srv.URL + "/wims/wims.cgi"
	return s
}

func (s *Server) Close() { s.srv.Close() }

// FailJob makes every future call to job answer ERROR with message.
func (s *Server) FailJob(job, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[job] = message
}

// Calls returns how many times job was called.
func (s *Server) Calls(job string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[job]
}

// ClassCount returns the number of classes currently on the server.
func (s *Server) ClassCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.classes)
}

// HasClass reports whether qclass exists.
func (s *Server) HasClass(qclass string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.classes[qclass]
	return ok
}

// ClassConfig returns the data1 fields the class was created with.
func (s *Server) ClassConfig(qclass string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classes[qclass]; ok {
		return c.config
	}
	return nil
}

// SheetTitle returns the title of a sheet, or "" when absent.
func (s *Server) SheetTitle(qclass, sheetID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classes[qclass]; ok {
		return c.sheets[sheetID]["title"]
	}
	return ""
}

// User returns the data1 fields of a user, or nil when absent.
func (s *Server) User(qclass, login string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classes[qclass]; ok {
		return c.users[login]
	}
	return nil
}

// SeedClass creates a class directly and returns its id.
func (s *Server) SeedClass(description string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addClassLocked(map[string]string{"description": description}, nil)
}

// SeedSheet creates a sheet directly and returns its id.
func (s *Server) SeedSheet(qclass, title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSheetLocked(s.classes[qclass], map[string]string{"title": title})
}

func (s *Server) addClassLocked(config, supervisor map[string]string) string {
	id := strconv.Itoa(s.nextClass)
	s.nextClass++
	s.classes[id] = &class{
		config:     config,
		supervisor: supervisor,
		sheets:     map[string]map[string]string{},
		users:      map[string]map[string]string{},
		nextSheet:  1,
	}
	return id
}

func (s *Server) addSheetLocked(c *class, config map[string]string) string {
	id := strconv.Itoa(c.nextSheet)
	c.nextSheet++
	c.sheets[id] = config
	return id
}

func parseConfig(raw string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			out[k] = v
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	job := q.Get("job")
	reply := func(body map[string]any) {
		body["job"] = job
		body["code"] = q.Get("code")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
	fail := func(msg string) { reply(map[string]any{"status": "ERROR", "message": msg}) }

	if q.Get("module") != "adm/raw" {
		http.Error(w, "not adm/raw", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[job]++

	if q.Get("ident") != Ident || q.Get("passwd") != Passwd {
		fail(IdentificationFailure)
		return
	}
	if msg, ok := s.failures[job]; ok {
		fail(msg)
		return
	}

	if job == "checkident" {
		reply(map[string]any{"status": "OK"})
		return
	}
	if job == "addclass" {
		id := s.addClassLocked(parseConfig(q.Get("data1")), parseConfig(q.Get("data2")))
		reply(map[string]any{"status": "OK", "class_id": json.Number(id)})
		return
	}

	c, ok := s.classes[q.Get("qclass")]
	if !ok {
		fail("class " + q.Get("qclass") + " not existing")
		return
	}

	switch job {
	case "delclass":
		delete(s.classes, q.Get("qclass"))
		reply(map[string]any{"status": "OK"})
	case "getsheet":
		if _, ok := c.sheets[q.Get("qsheet")]; !ok {
			fail("sheet " + q.Get("qsheet") + " not existing")
			return
		}
		reply(map[string]any{"status": "OK"})
	case "addsheet":
		id := s.addSheetLocked(c, parseConfig(q.Get("data1")))
		reply(map[string]any{"status": "OK", "sheet_id": json.Number(id)})
	case "getuser":
		if q.Get("quser") != "supervisor" {
			if _, ok := c.users[q.Get("quser")]; !ok {
				fail("user " + q.Get("quser") + " not existing")
				return
			}
		}
		reply(map[string]any{"status": "OK"})
	case "adduser":
		if _, ok := c.users[q.Get("quser")]; ok {
			fail("user " + q.Get("quser") + " already exists")
			return
		}
		c.users[q.Get("quser")] = parseConfig(q.Get("data1"))
		reply(map[string]any{"status": "OK"})
	case "authuser":
		login := q.Get("quser")
		if _, ok := c.users[login]; !ok && login != "supervisor" {
			fail("user " + login + " not existing")
			return
		}
		session := "S" + q.Get("qclass") + login
		reply(map[string]any{
			"status":       "OK",
			"wims_session": session,
			"home_url":     s.URL + "?session=" + session + "&lang=fr&module=home",
		})
	default:
		fail("unknown job " + job)
	}
}
