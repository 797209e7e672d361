package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"xhbook/lib/platforms/xinhua"
)

// swapJar is handed to the http client once, Reset swaps what is behind it.
type swapJar struct {
	mutex sync.RWMutex
	inner *cookiejar.Jar
}

func newCookieJar() *cookiejar.Jar {
	// cookiejar.New can only fail on options, and there are none
	jar, _ := cookiejar.New(nil)
	return jar
}

func (j *swapJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *swapJar) Cookies(u *url.URL) []*http.Cookie {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.inner.Cookies(u)
}

func (j *swapJar) reset() {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.inner = newCookieJar()
}

// Session is the authenticated identity against the platform: its cookies
// and the profile of the student they belong to.
type Session struct {
	jar *swapJar

	mutex   sync.RWMutex
	profile xinhua.Student
}

func New() *Session {
	return &Session{jar: &swapJar{inner: newCookieJar()}}
}

// Jar is the cookie jar every platform request should use, it stays the
// same object across resets.
func (s *Session) Jar() http.CookieJar {
	return s.jar
}

func (s *Session) Profile() xinhua.Student {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.profile
}

func (s *Session) SetProfile(profile xinhua.Student) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.profile = profile
}

func (s *Session) SetMobile(mobile string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.profile.Mobile = mobile
}

// StudentID is empty unless the session is populated.
func (s *Session) StudentID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.profile.StudentID
}

// Identity is what telemetry stamps onto every record.
func (s *Session) Identity() (studentID, studentNo string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.profile.StudentID, s.profile.StudentNo
}

func (s *Session) Populated() bool {
	return s.StudentID() != ""
}

// Reset drops every cookie and the profile.
func (s *Session) Reset() {
	s.jar.reset()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.profile = xinhua.Student{}
}
