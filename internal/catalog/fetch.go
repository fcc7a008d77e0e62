package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/models"
)

// DefaultURL is Steam's public app list endpoint.
const DefaultURL = "https://api.steampowered.com/ISteamApps/GetAppList/v2/"

// Fetcher retrieves the full remote app list.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.AppInfo, error)
}

// HTTPFetcher reads Steam's GetAppList response.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for url. A nil client gets a 60s timeout.
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPFetcher{url: url, client: client}
}

type appListResponse struct {
	AppList struct {
		Apps []struct {
			AppID int    `json:"appid"`
			Name  string `json:"name"`
		} `json:"apps"`
	} `json:"applist"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]models.AppInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app list request failed: %s", resp.Status)
	}

	var body appListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode app list: %w", err)
	}

	apps := make([]models.AppInfo, 0, len(body.AppList.Apps))
	for _, a := range body.AppList.Apps {
		name := strings.TrimSpace(a.Name)
		if a.AppID <= 0 || name == "" {
			continue
		}
		apps = append(apps, models.AppInfo{AppID: a.AppID, Name: name, Anonymous: true})
	}
	return apps, nil
}

// IsDedicatedServer reports whether a listing name looks like a server build.
func IsDedicatedServer(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "dedicated server") || strings.HasSuffix(lower, " server")
}

// Refresh fetches the remote listing and rewrites the cache file. It returns
// how many titles were kept.
func (c *Catalog) Refresh(ctx context.Context, now time.Time) (int, error) {
	apps, err := c.opts.Fetcher.Fetch(ctx)
	if err != nil {
		return 0, errs.E(errs.AdapterFailure, "catalog.refresh", "", err)
	}

	remote := make(map[int]models.AppInfo, len(apps))
	for _, app := range apps {
		if c.opts.DedicatedOnly && !IsDedicatedServer(app.Name) {
			continue
		}
		remote[app.AppID] = app
	}

	if c.opts.CachePath != "" {
		if err := c.saveCache(remote, now); err != nil {
			return 0, errs.E(errs.FilesystemError, "catalog.refresh", "", err)
		}
	}

	c.mu.Lock()
	c.remote = remote
	c.lastUpdate = now
	c.mu.Unlock()

	log.Printf("[Catalog] Refreshed %d titles (%d fetched)", len(remote), len(apps))
	return len(remote), nil
}
