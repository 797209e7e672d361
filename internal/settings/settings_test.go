package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"xhbook/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "settings.json"), &telemetry.Recorder{})
	require.Equal(t, "", s.Username())
	require.Equal(t, "", s.Password())
	require.True(t, s.SaveCredentials())
	require.True(t, s.AllowDataCollection())
}

func TestMalformedFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	rec := &telemetry.Recorder{}
	s := Load(path, rec)
	require.True(t, s.AllowDataCollection())
	require.Len(t, rec.Reports(telemetry.KindWarning, report_settings_load), 1)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(`{"theme": "dark", "allow_data_collection": false}`), 0600))

	s := Load(path, &telemetry.Recorder{})
	require.False(t, s.AllowDataCollection())

	s.RememberLogin("2023001", "密码pass", true)
	require.NoError(t, s.Save())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	var raw map[string]any
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(contents, &raw))
	require.Equal(t, "dark", raw["theme"])
	require.NotEqual(t, "密码pass", raw["encrypted_password"])

	reloaded := Load(path, &telemetry.Recorder{})
	require.Equal(t, "2023001", reloaded.Username())
	require.Equal(t, "密码pass", reloaded.Password())
	require.False(t, reloaded.AllowDataCollection())
}

func TestMutationsAreNotPersistedImplicitly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := Load(path, &telemetry.Recorder{})
	s.SetUsername("2023001")

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRememberLoginForgets(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "settings.json"), &telemetry.Recorder{})
	s.RememberLogin("2023001", "pw", true)
	s.RememberLogin("2023001", "pw", false)

	require.Equal(t, "", s.Username())
	require.Equal(t, "", s.Password())
	require.False(t, s.SaveCredentials())
}

func TestUndecodablePassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"encrypted_password": "%%%"}`), 0600))

	s := Load(path, &telemetry.Recorder{})
	require.Equal(t, "", s.Password())
}
