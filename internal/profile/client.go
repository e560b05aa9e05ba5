package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client fetches stored biometric profiles from the account-management
// service. Profiles are read-only here; enrollment lives with that service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, every subject resolves to a canned
// embedding so the full biometric path can run without the account service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Embedding returns the subject's stored feature vector. ok is false when
// the subject has no registered profile.
func (c *Client) Embedding(ctx context.Context, subjectID string) ([]float32, bool, error) {
	if c.Skip {
		return cannedEmbedding(), true, nil
	}
	if subjectID == "" {
		return nil, false, fmt.Errorf("subject id required")
	}

	url := fmt.Sprintf("%s/v1/profiles/%s/embedding", c.BaseURL, subjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("profile service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("profile service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		SubjectID string    `json:"subject_id"`
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, false, nil
	}
	return out.Embedding, true, nil
}

// Health pings the profile service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("profile service unhealthy: %s", resp.Status)
	}
	return nil
}

// cannedEmbedding is the fixed 128-dim vector used in skip mode.
func cannedEmbedding() []float32 {
	vec := make([]float32, 128)
	for i := range vec {
		vec[i] = float32(i%16) / 16
	}
	return vec
}
