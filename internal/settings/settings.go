package settings

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"xhbook/internal/components/telemetry"
)

const (
	report_settings_load = "settings.load"
	report_settings_save = "settings.save"
)

const (
	keyUsername            = "username"
	keyEncryptedPassword   = "encrypted_password"
	keySaveCredentials     = "save_credentials"
	keyAllowDataCollection = "allow_data_collection"
)

// Settings are the user's preferences, kept in a small json file. Changes
// stay in memory until Save is called.
//
// The stored password is only base64 encoded, which keeps it out of plain
// sight and nothing more.
type Settings struct {
	path string
	tel  telemetry.API

	mutex               sync.RWMutex
	username            string
	encryptedPassword   string
	saveCredentials     bool
	allowDataCollection bool
	// keys this version does not know about, written back untouched
	unknown map[string]json.RawMessage
}

func defaults(path string, tel telemetry.API) *Settings {
	return &Settings{
		path:                path,
		tel:                 tel,
		saveCredentials:     true,
		allowDataCollection: true,
		unknown:             map[string]json.RawMessage{},
	}
}

// Load reads the settings file at path. A missing or unreadable file yields
// the defaults, it is never an error.
func Load(path string, tel telemetry.API) *Settings {
	tel = telemetry.NewScopedAPI("settings", tel)
	s := defaults(path, tel)

	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		tel.ReportDebug("no settings file, using defaults", path)
		return s
	}
	if err != nil {
		tel.ReportWarning(report_settings_load, path, err)
		return s
	}

	var raw map[string]json.RawMessage
	err = json.Unmarshal(contents, &raw)
	if err != nil {
		tel.ReportWarning(report_settings_load, path, fmt.Errorf("malformed settings, using defaults: %w", err))
		return s
	}

	fields := map[string]any{
		keyUsername:            &s.username,
		keyEncryptedPassword:   &s.encryptedPassword,
		keySaveCredentials:     &s.saveCredentials,
		keyAllowDataCollection: &s.allowDataCollection,
	}
	for key, value := range raw {
		target, known := fields[key]
		if !known {
			s.unknown[key] = value
			continue
		}
		err = json.Unmarshal(value, target)
		if err != nil {
			tel.ReportWarning(report_settings_load, key, fmt.Errorf("ignoring invalid value: %w", err))
		}
	}
	return s
}

func (s *Settings) Path() string {
	return s.path
}

// Save writes the settings out with owner-only permissions.
func (s *Settings) Save() error {
	s.mutex.RLock()
	out := make(map[string]any, len(s.unknown)+4)
	for k, v := range s.unknown {
		out[k] = v
	}
	out[keyUsername] = s.username
	out[keyEncryptedPassword] = s.encryptedPassword
	out[keySaveCredentials] = s.saveCredentials
	out[keyAllowDataCollection] = s.allowDataCollection
	s.mutex.RUnlock()

	encoded, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		err = os.MkdirAll(dir, 0700)
		if err != nil {
			s.tel.ReportWarning(report_settings_save, err)
			return err
		}
	}
	err = os.WriteFile(s.path, encoded, 0600)
	if err != nil {
		s.tel.ReportWarning(report_settings_save, err)
		return err
	}
	return nil
}

func (s *Settings) Username() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.username
}

func (s *Settings) SetUsername(username string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.username = username
}

// Password decodes the stored password, a value that does not decode
// yields "".
func (s *Settings) Password() string {
	s.mutex.RLock()
	encoded := s.encryptedPassword
	s.mutex.RUnlock()

	if encoded == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return string(decoded)
}

func (s *Settings) SetPassword(password string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if password == "" {
		s.encryptedPassword = ""
		return
	}
	s.encryptedPassword = base64.StdEncoding.EncodeToString([]byte(password))
}

func (s *Settings) SaveCredentials() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.saveCredentials
}

func (s *Settings) SetSaveCredentials(save bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.saveCredentials = save
}

// AllowDataCollection is read from background goroutines, hence the lock.
func (s *Settings) AllowDataCollection() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.allowDataCollection
}

func (s *Settings) SetAllowDataCollection(allow bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.allowDataCollection = allow
}

// RememberLogin records the credentials of a login attempt, or forgets the
// stored ones when save is false.
func (s *Settings) RememberLogin(studentNo, password string, save bool) {
	s.SetSaveCredentials(save)
	if save {
		s.SetUsername(studentNo)
		s.SetPassword(password)
		return
	}
	s.SetUsername("")
	s.SetPassword("")
}
