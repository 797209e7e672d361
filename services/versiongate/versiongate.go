package versiongate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ConfigError means the version file is missing or unusable.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("version config %s: %s", e.Path, e.Err.Error())
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// VersionInfo is the operator-maintained description of the latest client.
type VersionInfo struct {
	LatestVersionNumber string `json:"latestVersionNumber"`
	LatestVersionUrl    string `json:"latestVersionUrl"`
	ReleaseNote         string `json:"releaseNote"`
}

type Result struct {
	ShouldUpdate     bool   `json:"shouldUpdate"`
	LatestVersionUrl string `json:"latestVersionUrl,omitempty"`
	ReleaseNote      string `json:"releaseNote,omitempty"`
}

// Parse splits a dotted version into its non-negative integer components.
func Parse(version string) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid version '%s': component '%s' is not an integer", version, p)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid version '%s': component '%s' is negative", version, p)
		}
		out[i] = n
	}
	return out, nil
}

// Compare reports whether latest is strictly newer than client. The shorter
// version is padded with zeros, so "1.0" and "1.0.0" are equal.
func Compare(client, latest string) (bool, error) {
	c, err := Parse(client)
	if err != nil {
		return false, err
	}
	l, err := Parse(latest)
	if err != nil {
		return false, err
	}
	for len(c) < len(l) {
		c = append(c, 0)
	}
	for len(l) < len(c) {
		l = append(l, 0)
	}
	for i := range c {
		if l[i] != c[i] {
			return l[i] > c[i], nil
		}
	}
	return false, nil
}

// Gate answers version checks from a json file that is read again on every
// check, so the latest version can change without a restart.
type Gate struct {
	path string
}

func NewGate(path string) Gate {
	return Gate{path: path}
}

func (g Gate) load() (VersionInfo, error) {
	contents, err := os.ReadFile(g.path)
	if err != nil {
		return VersionInfo{}, &ConfigError{Path: g.path, Err: err}
	}
	var info VersionInfo
	err = json.Unmarshal(contents, &info)
	if err != nil {
		return VersionInfo{}, &ConfigError{Path: g.path, Err: err}
	}
	if info.LatestVersionNumber == "" {
		return VersionInfo{}, &ConfigError{Path: g.path, Err: fmt.Errorf("latestVersionNumber is not set")}
	}
	return info, nil
}

// Check compares clientVersion against the configured latest version.
// Versions that do not parse never trigger an update.
func (g Gate) Check(clientVersion string) (Result, error) {
	info, err := g.load()
	if err != nil {
		return Result{}, err
	}

	update, err := Compare(clientVersion, info.LatestVersionNumber)
	if err != nil {
		slog.Warn("could not compare versions", "client", clientVersion, "latest", info.LatestVersionNumber, "err", err)
		return Result{}, nil
	}
	if !update {
		return Result{}, nil
	}
	return Result{
		ShouldUpdate:     true,
		LatestVersionUrl: info.LatestVersionUrl,
		ReleaseNote:      info.ReleaseNote,
	}, nil
}
