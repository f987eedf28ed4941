package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arcade-ranking/models"

	"go.uber.org/zap"
)

// DisplayNameStore is where synced names land.
type DisplayNameStore interface {
	UpsertDisplayNames(ctx context.Context, players []models.Player) (int64, error)
	LatestUpdate(ctx context.Context) (time.Time, error)
}

// RemoteProfile is one entry of the profile service change feed.
type RemoteProfile struct {
	ExternalID  string    `json:"external_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// ProfileSyncWorker polls the profile service for display-name changes.
type ProfileSyncWorker struct {
	names        DisplayNameStore
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	log          *zap.Logger
}

func NewProfileSyncWorker(names DisplayNameStore, baseURL, endpointPath, serviceToken string, interval time.Duration, httpClient *http.Client, log *zap.Logger) *ProfileSyncWorker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProfileSyncWorker{
		names:        names,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   httpClient,
		log:          log.Named("sync"),
	}
}

func (w *ProfileSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting profile sync worker", zap.String("base_url", w.baseURL), zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *ProfileSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.Warn("initial sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Warn("sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.log.Info("profile sync worker stopped")
			return
		}
	}
}

// SyncOnce fetches changes since the newest mirrored name and stores them.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since, err := w.names.LatestUpdate(ctx)
	if err != nil {
		return 0, err
	}
	profiles, err := w.fetch(ctx, since)
	if err != nil {
		return 0, err
	}

	players := make([]models.Player, 0, len(profiles))
	for _, p := range profiles {
		if p.ExternalID == "" {
			continue
		}
		name := strings.TrimSpace(p.DisplayName)
		if name == "" {
			name = strings.TrimSpace(p.Username)
		}
		if name == "" {
			continue
		}
		updated := p.UpdatedAt.UTC()
		if updated.IsZero() {
			updated = time.Now().UTC()
		}
		players = append(players, models.Player{PlayerID: p.ExternalID, DisplayName: name, UpdatedAt: updated})
	}
	if len(players) == 0 {
		return 0, nil
	}

	if _, err := w.names.UpsertDisplayNames(ctx, players); err != nil {
		return 0, err
	}
	w.log.Info("display names synced", zap.Int("count", len(players)))
	return len(players), nil
}

func (w *ProfileSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned %d: %s", resp.StatusCode, string(body))
	}

	var out profileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode profile changes: %w", err)
	}
	return out.Users, nil
}
