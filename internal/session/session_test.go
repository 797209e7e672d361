package session

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"xhbook/lib/platforms/xinhua"

	"github.com/stretchr/testify/require"
)

const testBase = "http://platform.test"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "session.json"), testBase)
	require.NoError(t, err)
	return store
}

func populated() *Session {
	s := New()
	u, _ := url.Parse(testBase + "/api/StudentLogin.do")
	s.Jar().SetCookies(u, []*http.Cookie{{Name: "JSESSIONID", Value: "abc", Path: "/"}})
	s.SetProfile(xinhua.Student{StudentID: "90001", StudentNo: "2023001", StudentName: "张三"})
	return s
}

func TestResetKeepsJarIdentity(t *testing.T) {
	s := populated()
	jar := s.Jar()
	s.Reset()

	require.Same(t, jar, s.Jar())
	require.False(t, s.Populated())
	u, _ := url.Parse(testBase)
	require.Empty(t, s.Jar().Cookies(u))
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.False(t, store.Exists())
	require.NoError(t, store.Save(populated()))
	require.True(t, store.Exists())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(store.Path())
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	contents, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(contents, &raw))
	require.Equal(t, map[string]any{"JSESSIONID": "abc"}, raw["cookies"])

	restored := New()
	require.NoError(t, store.Load(restored))
	id, no := restored.Identity()
	require.Equal(t, "90001", id)
	require.Equal(t, "2023001", no)

	u, _ := url.Parse(testBase + "/api/GetBookList.do")
	cookies := restored.Jar().Cookies(u)
	require.Len(t, cookies, 1)
	require.Equal(t, "abc", cookies[0].Value)
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	require.ErrorIs(t, store.Load(New()), ErrNoSession)
}

func TestStoreLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"malformed":  "{",
		"no profile": `{"cookies": {"JSESSIONID": "abc"}}`,
		"no id":      `{"cookies": {}, "student_info": {"studentNo": "2023001"}}`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, os.WriteFile(store.Path(), []byte(contents), 0600))

			s := New()
			err := store.Load(s)
			var invalid *ValidationError
			require.ErrorAs(t, err, &invalid)
			require.False(t, s.Populated())
		})
	}
}

func TestStoreDeleteMissingIsFine(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Delete())
	require.NoError(t, store.Save(populated()))
	require.NoError(t, store.Delete())
	require.False(t, store.Exists())
}
