package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SendRequest is the body of POST /signaling/send.
type SendRequest struct {
	CallID     string `json:"call_id"`
	Type       Type   `json:"type"`
	Content    string `json:"content"`
	TargetUser string `json:"target_user,omitempty"`
}

// Participant is one entry of GET /calls/{call}/participants.
type Participant struct {
	UserID string `json:"user_id"`
}

// SessionKeyResponse is the body of GET /calls/{call}/session_key.
type SessionKeyResponse struct {
	SessionKey string `json:"session_key"`
}

// CreateGroupRequest is the body of POST /calls/group.
type CreateGroupRequest struct {
	Participants []string `json:"participants"`
	SessionKey   string   `json:"session_key"`
}

// CallResponse carries a call id.
type CallResponse struct {
	CallID string `json:"call_id"`
}

// UserResponse is the body of GET /users/{user}.
type UserResponse struct {
	UserID    string `json:"user_id"`
	PublicKey string `json:"public_key"`
}

// PublicKeyRequest is the body of POST /users/key.
type PublicKeyRequest struct {
	PublicKey string `json:"public_key"`
}

// HTTPRelay implements Relay against the relay service's REST API,
// authenticating with a bearer token.
type HTTPRelay struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRelay ...
func NewHTTPRelay(baseURL string, token string, timeout time.Duration) *HTTPRelay {
	return &HTTPRelay{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRelay) do(ctx context.Context, method string, path string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Send implements Relay
func (r *HTTPRelay) Send(ctx context.Context, callID string, t Type, content string, target string) error {
	return r.do(ctx, http.MethodPost, "/signaling/send", SendRequest{
		CallID:     callID,
		Type:       t,
		Content:    content,
		TargetUser: target,
	}, nil)
}

// Receive implements Relay
func (r *HTTPRelay) Receive(ctx context.Context, callID string, t Type, forUser string) ([]Record, error) {
	path := fmt.Sprintf("/signaling/%s/%s", url.PathEscape(callID), url.PathEscape(string(t)))
	if forUser != "" {
		path += "?for_user=" + url.QueryEscape(forUser)
	}

	var records []Record
	if err := r.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// Inbox implements Relay
func (r *HTTPRelay) Inbox(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := r.do(ctx, http.MethodGet, "/inbox", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Purge implements Relay
func (r *HTTPRelay) Purge(ctx context.Context, callID string) error {
	return r.do(ctx, http.MethodDelete, "/signaling/"+url.PathEscape(callID), nil, nil)
}

// Join implements Relay
func (r *HTTPRelay) Join(ctx context.Context, callID string) error {
	return r.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/join", nil, nil)
}

// Leave implements Relay
func (r *HTTPRelay) Leave(ctx context.Context, callID string) error {
	return r.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/leave", nil, nil)
}

// Participants implements Relay
func (r *HTTPRelay) Participants(ctx context.Context, callID string) ([]string, error) {
	var ps []Participant
	if err := r.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/participants", nil, &ps); err != nil {
		return nil, err
	}

	res := make([]string, len(ps))
	for i, p := range ps {
		res[i] = p.UserID
	}

	return res, nil
}

// SessionKeyMaterial implements Relay
func (r *HTTPRelay) SessionKeyMaterial(ctx context.Context, callID string) (string, error) {
	var resp SessionKeyResponse
	if err := r.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/session_key", nil, &resp); err != nil {
		return "", err
	}
	return resp.SessionKey, nil
}

// CreateGroup implements Relay
func (r *HTTPRelay) CreateGroup(ctx context.Context, members []string, material string) (string, error) {
	var resp CallResponse
	err := r.do(ctx, http.MethodPost, "/calls/group", CreateGroupRequest{
		Participants: members,
		SessionKey:   material,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.CallID, nil
}

// Invitations implements Relay
func (r *HTTPRelay) Invitations(ctx context.Context) ([]string, error) {
	var calls []CallResponse
	if err := r.do(ctx, http.MethodGet, "/calls/invitations", nil, &calls); err != nil {
		return nil, err
	}

	res := make([]string, len(calls))
	for i, c := range calls {
		res[i] = c.CallID
	}

	return res, nil
}

// PublicKey implements Relay
func (r *HTTPRelay) PublicKey(ctx context.Context, user string) (string, error) {
	var resp UserResponse
	if err := r.do(ctx, http.MethodGet, "/users/"+url.PathEscape(user), nil, &resp); err != nil {
		return "", err
	}
	if resp.PublicKey == "" {
		return "", ErrNotFound
	}
	return resp.PublicKey, nil
}

// RegisterPublicKey implements Relay
func (r *HTTPRelay) RegisterPublicKey(ctx context.Context, pem string) error {
	return r.do(ctx, http.MethodPost, "/users/key", PublicKeyRequest{PublicKey: pem}, nil)
}
