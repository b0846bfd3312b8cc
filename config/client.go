package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Default client configuration values
const (
	DefaultServerURL = "http://localhost:8080"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
)

// ClientConfig holds the mesh client configuration.
type ClientConfig struct {
	// ServerURL is the relay's base URL, without the /api prefix.
	ServerURL string

	Email   string
	GroupID string
	Token   string

	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string

	// ForceRelay restricts every link to relay candidates from the start.
	ForceRelay bool

	// TURNCredentialsURL, when set, is fetched for extra ICE servers.
	TURNCredentialsURL string

	PollInterval     time.Duration
	PresenceInterval time.Duration
}

// ClientOptions carries CLI flag overrides.
type ClientOptions struct {
	ServerURL  string
	Email      string
	GroupID    string
	Token      string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// LoadClient reads configuration with the following priority:
// 1. CLI flags (passed via ClientOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	serverURL := firstNonEmpty(opts.ServerURL, os.Getenv("SERVER_URL"), DefaultServerURL)
	serverURL = strings.TrimRight(serverURL, "/")
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("server url %q must start with http:// or https://", serverURL)
	}

	cfg := &ClientConfig{
		ServerURL:          serverURL,
		Email:              firstNonEmpty(opts.Email, os.Getenv("MESH_EMAIL")),
		GroupID:            firstNonEmpty(opts.GroupID, os.Getenv("MESH_GROUP")),
		Token:              firstNonEmpty(opts.Token, os.Getenv("MESH_TOKEN")),
		STUNServers:        splitList(firstNonEmpty(opts.STUNServer, os.Getenv("STUN_URLS"), DefaultSTUN)),
		TURNServers:        splitList(firstNonEmpty(opts.TURNServer, os.Getenv("TURN_URLS"))),
		TURNUser:           firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:           firstNonEmpty(opts.TURNPass, os.Getenv("TURN_CREDENTIAL")),
		ForceRelay:         opts.ForceRelay || getEnvBool("FORCE_TURN", false),
		TURNCredentialsURL: os.Getenv("TURN_CREDENTIALS_URL"),
		PollInterval:       getEnvDuration("POLL_INTERVAL", time.Second),
		PresenceInterval:   getEnvDuration("PRESENCE_INTERVAL", 2*time.Second),
	}

	if cfg.ForceRelay && len(cfg.TURNServers) == 0 {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
