package notify

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrCredentials is returned for a missing or malformed secrets file.
var ErrCredentials = errors.New("invalid credentials")

// Credentials are the OAuth1 user-context keys for the posting account.
type Credentials struct {
	APIKey            string
	APIKeySecret      string
	AccessToken       string
	AccessTokenSecret string
}

// LoadCredentials reads a secrets file holding, one per line and in order:
// API key, API key secret, access token, access token secret.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied secrets path
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: read %s: %v", ErrCredentials, path, err)
	}
	return ParseCredentials(string(data))
}

func ParseCredentials(raw string) (Credentials, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) != 4 {
		return Credentials{}, fmt.Errorf("%w: want 4 lines, got %d", ErrCredentials, len(lines))
	}
	names := [4]string{"api key", "api key secret", "access token", "access token secret"}
	vals := [4]string{}
	for i, l := range lines {
		vals[i] = strings.TrimSpace(l)
		if vals[i] == "" {
			return Credentials{}, fmt.Errorf("%w: %s is empty", ErrCredentials, names[i])
		}
	}
	return Credentials{
		APIKey:            vals[0],
		APIKeySecret:      vals[1],
		AccessToken:       vals[2],
		AccessTokenSecret: vals[3],
	}, nil
}
