package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AntiCheatClient asks an external verification service to judge a
// submission. It satisfies AntiCheatGate.
type AntiCheatClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewAntiCheatClient(baseURL, token string) *AntiCheatClient {
	return &AntiCheatClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

func (c *AntiCheatClient) Check(ctx context.Context, sub Submission) (AntiCheatDecision, error) {
	url := fmt.Sprintf("%s/verify", c.BaseURL)

	jsonData, err := json.Marshal(sub)
	if err != nil {
		return AntiCheatDecision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return AntiCheatDecision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return AntiCheatDecision{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return AntiCheatDecision{}, fmt.Errorf("anti-cheat /verify returned %d: %s", resp.StatusCode, string(body))
	}

	var out AntiCheatDecision
	if err := json.Unmarshal(body, &out); err != nil {
		return AntiCheatDecision{}, fmt.Errorf("decode anti-cheat verdict: %w", err)
	}
	switch out.Verdict {
	case VerdictAccept, VerdictReject, VerdictFlag:
		return out, nil
	}
	return AntiCheatDecision{}, fmt.Errorf("unknown anti-cheat verdict %q", out.Verdict)
}
