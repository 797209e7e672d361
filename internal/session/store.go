package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"xhbook/lib/platforms/xinhua"
)

var ErrNoSession = errors.New("no saved session")

// ValidationError means a session file exists but cannot be used.
type ValidationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid session file %s: %s: %s", e.Path, e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("invalid session file %s: %s", e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type storedSession struct {
	Cookies     map[string]string `json:"cookies"`
	StudentInfo *xinhua.Student   `json:"student_info"`
}

// Store persists a session to a single json file so that a restart does not
// require logging in again.
type Store struct {
	path string
	base *url.URL
}

func NewStore(path, baseURL string) (*Store, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if base.Path == "" {
		base.Path = "/"
	}
	return &Store{path: path, base: base}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes the platform cookies and the profile of the session.
func (s *Store) Save(session *Session) error {
	stored := storedSession{Cookies: map[string]string{}}
	for _, c := range session.Jar().Cookies(s.base) {
		stored.Cookies[c.Name] = c.Value
	}
	profile := session.Profile()
	stored.StudentInfo = &profile

	encoded, err := json.MarshalIndent(stored, "", "    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		err = os.MkdirAll(dir, 0700)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, encoded, 0600)
}

// Load restores a saved session into the given one. It returns ErrNoSession
// when there is no file and a *ValidationError when the file is unusable,
// in both cases the given session is left untouched.
func (s *Store) Load(session *Session) error {
	contents, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoSession
	}
	if err != nil {
		return &ValidationError{Path: s.path, Reason: "unreadable", Err: err}
	}

	var stored storedSession
	err = json.Unmarshal(contents, &stored)
	if err != nil {
		return &ValidationError{Path: s.path, Reason: "malformed", Err: err}
	}
	if stored.StudentInfo == nil || stored.StudentInfo.StudentID == "" {
		return &ValidationError{Path: s.path, Reason: "missing studentID"}
	}

	cookies := make([]*http.Cookie, 0, len(stored.Cookies))
	for name, value := range stored.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	session.Jar().SetCookies(s.base, cookies)
	session.SetProfile(*stored.StudentInfo)
	return nil
}

// Delete removes the file, a file that is already gone is not an error.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
