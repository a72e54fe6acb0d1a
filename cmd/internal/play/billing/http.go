package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPGate talks to a REST billing provider:
//
//	GET    /v1/principals/{id}/verdict  -> {"verdict":"OK"}
//	GET    /v1/streams/{sid}/verdict    -> {"verdict":"OK"}   (404 means STOPPED)
//	POST   /v1/streams                  <- {"sessionId":"...","principalId":"..."}
//	DELETE /v1/streams/{sid}                                  (404 is success)
type HTTPGate struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPGate builds a gate against baseURL. A nil client uses http.DefaultClient;
// timeouts belong to the Resilient wrapper.
func NewHTTPGate(baseURL, apiToken string, client *http.Client) (*HTTPGate, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: billing url must be absolute http(s)", ErrConfig)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGate{
		base:   strings.TrimRight(u.String(), "/"),
		token:  strings.TrimSpace(apiToken),
		client: client,
	}, nil
}

type verdictResponse struct {
	Verdict string `json:"verdict"`
}

type startStreamRequest struct {
	SessionID   string `json:"sessionId"`
	PrincipalID string `json:"principalId"`
}

func (g *HTTPGate) Check(ctx context.Context, principalID string) (Verdict, error) {
	return g.getVerdict(ctx, OpCheck, "/v1/principals/"+url.PathEscape(principalID)+"/verdict", false)
}

func (g *HTTPGate) CheckStream(ctx context.Context, sessionID string) (Verdict, error) {
	return g.getVerdict(ctx, OpCheckStream, "/v1/streams/"+url.PathEscape(sessionID)+"/verdict", true)
}

func (g *HTTPGate) StartStream(ctx context.Context, sessionID, principalID string) error {
	body, err := json.Marshal(startStreamRequest{SessionID: sessionID, PrincipalID: principalID})
	if err != nil {
		return err
	}
	res, err := g.do(ctx, http.MethodPost, "/v1/streams", body)
	if err != nil {
		return fmt.Errorf("billing: %s: %w", OpStartStream, err)
	}
	defer drain(res)

	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return StatusError{Op: OpStartStream, Code: res.StatusCode}
	}
}

func (g *HTTPGate) StopStream(ctx context.Context, sessionID string) error {
	res, err := g.do(ctx, http.MethodDelete, "/v1/streams/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("billing: %s: %w", OpStopStream, err)
	}
	defer drain(res)

	switch res.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return StatusError{Op: OpStopStream, Code: res.StatusCode}
	}
}

func (g *HTTPGate) getVerdict(ctx context.Context, op, path string, missingIsStopped bool) (Verdict, error) {
	res, err := g.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return VerdictUnknown, fmt.Errorf("billing: %s: %w", op, err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusNotFound && missingIsStopped {
		return VerdictStopped, nil
	}
	if res.StatusCode != http.StatusOK {
		return VerdictUnknown, StatusError{Op: op, Code: res.StatusCode}
	}

	var vr verdictResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<10)).Decode(&vr); err != nil {
		return VerdictUnknown, fmt.Errorf("%w: %s: %v", ErrMalformed, op, err)
	}
	return ParseVerdict(vr.Verdict)
}

func (g *HTTPGate) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	return g.client.Do(req)
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()
}
