package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// remoteSession speaks the small subset of the W3C WebDriver protocol the
// harness needs: create a session and delete it.
type remoteSession struct {
	endpoint   string
	httpClient *http.Client
	id         string
}

func newRemoteSession(endpoint string, client *http.Client) *remoteSession {
	return &remoteSession{endpoint: strings.TrimSuffix(endpoint, "/"), httpClient: client}
}

type sessionValue struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

type sessionResponse struct {
	// legacy JSONWire servers put the id at the top level
	SessionID string       `json:"sessionId"`
	Value     sessionValue `json:"value"`
}

func (s *remoteSession) create(ctx context.Context, caps map[string]any) (string, error) {
	payload := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": caps,
		},
		"desiredCapabilities": caps,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode new session payload")
	}
	log.Debug().Str("endpoint", redact(s.endpoint)).Msg("remote session request")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/session", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build new session request")
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "call new session")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", errors.Wrap(err, "read new session response")
	}

	var parsed sessionResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < http.StatusBadRequest {
			return "", errors.Wrap(err, "decode new session response")
		}
	}
	if resp.StatusCode >= http.StatusBadRequest || parsed.Value.Error != "" {
		msg := strings.TrimSpace(parsed.Value.Message)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", errors.Errorf("new session failed: http=%d error=%s msg=%s", resp.StatusCode, parsed.Value.Error, msg)
	}
	id := parsed.Value.SessionID
	if id == "" {
		id = parsed.SessionID
	}
	if id == "" {
		return "", errors.New("new session response missing sessionId")
	}
	s.id = id
	return id, nil
}

func (s *remoteSession) delete(ctx context.Context) error {
	if s == nil || s.id == "" {
		return nil
	}
	id := s.id
	s.id = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.endpoint+"/session/"+url.PathEscape(id), nil)
	if err != nil {
		return errors.Wrap(err, "build delete session request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "delete session %s", id)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		return errors.Errorf("delete session %s failed: http=%d", id, resp.StatusCode)
	}
	return nil
}

// redact drops query strings that may carry farm tokens.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
