// Package signalclient talks to the relay's HTTP API.
package signalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const defaultTimeout = 10 * time.Second

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d", e.Status)
	}
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

// IsAuthError reports whether err is a 401 or 403 from the relay. Those are
// fatal for the current action; everything else is worth retrying.
func IsAuthError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden
}

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
	email string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithEmail sends the identity header on every request.
func WithEmail(email string) Option {
	return func(c *Client) { c.email = email }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token is the session token in use, if any.
func (c *Client) Token() string {
	token, _ := c.credentials()
	return token
}

func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.email
}

func (c *Client) authorize(req *http.Request) {
	token, email := c.credentials()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if email != "" {
		req.Header.Set("X-User-Email", email)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func roomPath(roomID, suffix string) string {
	return "/api/rooms/" + url.PathEscape(roomID) + suffix
}

// Login exchanges a directory email for a session token and keeps it for
// later requests.
func (c *Client) Login(ctx context.Context, email, groupID string) (models.LoginResponse, error) {
	var resp models.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{Email: email, GroupID: groupID}, &resp)
	if err != nil {
		return resp, err
	}
	c.mu.Lock()
	c.token = resp.Token
	c.email = resp.User.Email
	c.mu.Unlock()
	return resp, nil
}

func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var resp struct {
		Users []models.User `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, "/api/auth/users", nil, &resp)
	return resp.Users, err
}

func (c *Client) CreateRoom(ctx context.Context, roomID string) (string, error) {
	var resp models.CreateRoomResponse
	err := c.do(ctx, http.MethodPost, "/api/rooms", models.CreateRoomRequest{ID: roomID}, &resp)
	return resp.RoomID, err
}

func (c *Client) ListRooms(ctx context.Context, groupID string) ([]models.Room, error) {
	path := "/api/rooms"
	if groupID != "" {
		path += "?groupId=" + url.QueryEscape(groupID)
	}
	var resp models.RoomListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Rooms, err
}

func (c *Client) Join(ctx context.Context, roomID, peerID string) (models.JoinResponse, error) {
	var resp models.JoinResponse
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "/join"), models.PeerRequest{PeerID: peerID}, &resp)
	return resp, err
}

func (c *Client) Post(ctx context.Context, roomID string, msg models.PostSignalRequest) (int64, error) {
	var resp models.PostSignalResponse
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "/signal"), msg, &resp)
	return resp.ID, err
}

// Poll fetches messages after since, skipping those sent by excludeFrom and
// those addressed to someone other than forPeer.
func (c *Client) Poll(ctx context.Context, roomID string, since int64, excludeFrom, forPeer string) (models.PollResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if excludeFrom != "" {
		q.Set("excludeFrom", excludeFrom)
	}
	if forPeer != "" {
		q.Set("for", forPeer)
	}
	var resp models.PollResponse
	err := c.do(ctx, http.MethodGet, roomPath(roomID, "/signal?"+q.Encode()), nil, &resp)
	return resp, err
}

func (c *Client) Heartbeat(ctx context.Context, roomID, peerID string) ([]string, error) {
	var resp models.ParticipantsResponse
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "/participants"), models.PeerRequest{PeerID: peerID}, &resp)
	return resp.Participants, err
}

func (c *Client) Participants(ctx context.Context, roomID string) ([]string, error) {
	var resp models.ParticipantsResponse
	err := c.do(ctx, http.MethodGet, roomPath(roomID, "/participants"), nil, &resp)
	return resp.Participants, err
}

func (c *Client) Leave(ctx context.Context, roomID, peerID string) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/leave"), models.PeerRequest{PeerID: peerID}, nil)
}

// AuthorizedHTTPClient returns an http.Client that carries this client's
// credentials, for calls like the relay's TURN credential proxy.
func (c *Client) AuthorizedHTTPClient() *http.Client {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   c.http.Timeout,
		Transport: &authTransport{client: c, base: base},
	}
}

type authTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	t.client.authorize(req)
	return t.base.RoundTrip(req)
}
