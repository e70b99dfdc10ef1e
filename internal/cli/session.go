package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSession means nobody has run `invest login` yet, or the stored
// credentials were cleared.
var ErrNoSession = errors.New("not logged in")

const (
	sessionDirName  = ".invest"
	sessionFileName = "session.json"
)

// Session holds the bearer token issued by POST /v1/login, the account it was
// issued for and the API it came from.
type Session struct {
	AccessToken string `json:"access_token"`
	Account     string `json:"account"`
	BaseURL     string `json:"base_url,omitempty"`
}

var homeDir = os.UserHomeDir

func sessionFile() (string, error) {
	home, err := homeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, sessionDirName, sessionFileName), nil
}

// SaveSession writes s readable by the owner only. The file is replaced by
// rename so a crash never leaves half a token behind.
func SaveSession(s Session) error {
	if strings.TrimSpace(s.AccessToken) == "" {
		return fmt.Errorf("save session: empty access token")
	}
	path, err := sessionFile()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func LoadSession() (Session, error) {
	path, err := sessionFile()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", path, err)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// ClearSession forgets the stored token. Logging out twice is fine.
func ClearSession() error {
	path, err := sessionFile()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
