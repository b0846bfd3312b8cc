// Package ice assembles the ICE server list handed to every peer connection.
// It is plain configuration: the orchestrator treats the result as opaque.
package ice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/pion/webrtc/v4"
)

// maxTURNURLs keeps the list short; browsers warn past two TURN entries.
const maxTURNURLs = 2

const fetchTimeout = 7 * time.Second

var ErrNoCredentialsURL = errors.New("TURN credentials URL not configured")

// Provider supplies the ICE servers for new peer connections.
type Provider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// Static always returns the same list.
type Static []webrtc.ICEServer

func (s Static) ICEServers(context.Context) ([]webrtc.ICEServer, error) {
	return append([]webrtc.ICEServer(nil), s...), nil
}

// Build turns the client configuration into one STUN entry and, when TURN is
// configured, one TURN entry with credentials. Malformed TURN URLs are dropped.
func Build(cfg *config.ClientConfig) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}

	var turnURLs []string
	for _, raw := range cfg.TURNServers {
		if u, ok := NormalizeTURNURL(raw); ok {
			turnURLs = append(turnURLs, u)
		}
	}
	if len(cfg.TURNServers) > 0 && len(turnURLs) == 0 {
		return nil, fmt.Errorf("no valid TURN URL in %q", cfg.TURNServers)
	}
	if len(turnURLs) > maxTURNURLs {
		turnURLs = turnURLs[:maxTURNURLs]
	}
	if len(turnURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turnURLs,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}
	return servers, nil
}

// NormalizeTURNURL accepts loose TURN URL forms (embedded credentials, extra
// query parameters, missing port) and returns scheme:host:port[?transport=x].
func NormalizeTURNURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return "", false
	}
	scheme = strings.ToLower(scheme)
	if scheme != "turn" && scheme != "turns" {
		return "", false
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "//"))

	// Strip embedded credentials (user[:pass]@)
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}

	hostport, query, _ := strings.Cut(rest, "?")
	transport := ""
	for _, pair := range strings.FieldsFunc(query, func(r rune) bool { return r == '&' || r == ';' }) {
		k, v, _ := strings.Cut(pair, "=")
		if strings.EqualFold(k, "transport") {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "udp" || v == "tcp" {
				transport = v
				break
			}
		}
	}

	var host, portStr string
	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end == -1 {
			return "", false
		}
		host = hostport[:end+1]
		if len(hostport) > end+1 {
			if hostport[end+1] != ':' {
				return "", false
			}
			portStr = hostport[end+2:]
		}
	} else if i := strings.LastIndex(hostport, ":"); i != -1 {
		host, portStr = hostport[:i], hostport[i+1:]
	} else {
		host = hostport
	}

	port := 3478
	if scheme == "turns" {
		port = 5349
	}
	if portStr != "" {
		n, err := strconv.Atoi(portStr)
		if err != nil {
			return "", false
		}
		port = n
	}
	if port <= 0 || port >= 65536 {
		return "", false
	}
	if host == "" || strings.ContainsAny(host, " \t\r\n") {
		return "", false
	}

	out := fmt.Sprintf("%s:%s:%d", scheme, host, port)
	if transport != "" {
		out += "?transport=" + transport
	}
	return out, true
}

type credentialsJSON struct {
	ICEServers []iceServerJSON `json:"iceServers"`

	URLs       stringOrStringSlice `json:"urls"`
	URIs       stringOrStringSlice `json:"uris"`
	Username   string              `json:"username"`
	Credential string              `json:"credential"`
	Password   string              `json:"password"`
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseCredentials normalises a TURN credential service response. It accepts
// either {"iceServers": [...]} or a flat {urls|uris, username, credential|password}.
func ParseCredentials(body []byte) ([]webrtc.ICEServer, error) {
	var data credentialsJSON
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parse TURN credentials: %w", err)
	}

	out := make([]webrtc.ICEServer, 0, len(data.ICEServers)+1)
	if len(data.ICEServers) > 0 {
		for _, s := range data.ICEServers {
			if len(s.URLs) == 0 {
				continue
			}
			server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
			if s.Credential != "" {
				server.Credential = s.Credential
			}
			out = append(out, server)
		}
		return out, nil
	}

	urls := append(append([]string{}, data.URLs...), data.URIs...)
	credential := data.Credential
	if credential == "" {
		credential = data.Password
	}
	if len(urls) > 0 && (data.Username != "" || credential != "") {
		out = append(out, webrtc.ICEServer{URLs: urls, Username: data.Username, Credential: credential})
	}
	return out, nil
}

// StatusError is an upstream HTTP failure.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %d", e.Status)
}

// FetchCredentials loads ICE servers from a TURN credential service.
func FetchCredentials(ctx context.Context, client *http.Client, url string) ([]webrtc.ICEServer, error) {
	if url == "" {
		return nil, ErrNoCredentialsURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch TURN credentials: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read TURN credentials: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > 2000 {
			body = body[:2000]
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return ParseCredentials(body)
}

// Fetching returns Base plus whatever the credential service hands out.
// A failed fetch falls back to Base.
type Fetching struct {
	Base   []webrtc.ICEServer
	URL    string
	Client *http.Client
}

func (f *Fetching) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	servers := append([]webrtc.ICEServer(nil), f.Base...)
	if f.URL == "" {
		return servers, nil
	}
	fetched, err := FetchCredentials(ctx, f.Client, f.URL)
	if err != nil {
		slog.Warn("TURN credential fetch failed, using static ICE servers", "err", err)
		return servers, nil
	}
	return append(servers, fetched...), nil
}

// TransportPolicy maps the relay-only flag to pion's policy.
func TransportPolicy(relayOnly bool) webrtc.ICETransportPolicy {
	if relayOnly {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}
