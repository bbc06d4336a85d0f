package poller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
)

// StatusClient reads request and session status from the HTTP API.
type StatusClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewStatusClient creates a StatusClient for the API at baseURL. token is
// sent as a bearer token when set.
func NewStatusClient(baseURL, token string, hc *http.Client) *StatusClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &StatusClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

// Request polls GET /api/research/{id}.
func (c *StatusClient) Request(id string) FetchFunc {
	return func(ctx context.Context) (Snapshot, error) {
		var body struct {
			Request *model.ResearchRequest `json:"request"`
		}
		if err := c.get(ctx, "/api/research/"+url.PathEscape(id), &body); err != nil {
			return Snapshot{}, err
		}
		if body.Request == nil {
			return Snapshot{}, eris.Errorf("poller: request %s missing from response", id)
		}
		return RequestSnapshot(body.Request), nil
	}
}

// Session polls GET /api/sessions/{id}/prospects and follows its jobs.
func (c *StatusClient) Session(id string) FetchFunc {
	return func(ctx context.Context) (Snapshot, error) {
		var body struct {
			Jobs []model.ResearchJob `json:"jobs"`
		}
		if err := c.get(ctx, "/api/sessions/"+url.PathEscape(id)+"/prospects", &body); err != nil {
			return Snapshot{}, err
		}
		return JobsSnapshot(body.Jobs), nil
	}
}

func (c *StatusClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "poller: build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "poller: GET %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return resilience.NewUpstreamError("api", resp.StatusCode, eris.Errorf("poller: GET %s: %s", path, msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "poller: decode %s", path)
	}
	return nil
}
