// Package catalog resolves installable titles to Steam app metadata.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/models"
)

//go:embed bundled.json
var bundledJSON []byte

// Options configures a Catalog.
type Options struct {
	CachePath     string
	URL           string
	TTL           time.Duration
	DedicatedOnly bool
	Fetcher       Fetcher
}

// Catalog merges the bundled listing with the cached remote app list.
// Bundled entries win because they carry launch commands.
type Catalog struct {
	opts Options

	bundled map[int]models.AppInfo

	mu         sync.RWMutex
	remote     map[int]models.AppInfo
	lastUpdate time.Time
}

// cacheFile is the on-disk shape of server_cache.json.
type cacheFile struct {
	Servers    []cacheEntry `json:"servers"`
	LastUpdate time.Time    `json:"last_update"`
}

type cacheEntry struct {
	AppID       int    `json:"app_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// New loads the bundled listing and, if present, the cache file. A cache that
// cannot be read is ignored until the next refresh.
func New(opts Options) (*Catalog, error) {
	var apps []models.AppInfo
	if err := json.Unmarshal(bundledJSON, &apps); err != nil {
		return nil, fmt.Errorf("failed to parse bundled catalog: %w", err)
	}

	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher(opts.URL, nil)
	}

	c := &Catalog{
		opts:    opts,
		bundled: make(map[int]models.AppInfo, len(apps)),
		remote:  map[int]models.AppInfo{},
	}
	for _, app := range apps {
		c.bundled[app.AppID] = app
	}

	if opts.CachePath != "" {
		if err := c.loadCache(); err != nil {
			log.Printf("[Catalog] Ignoring unreadable cache %s: %v", opts.CachePath, err)
		}
	}
	return c, nil
}

func (c *Catalog) loadCache() error {
	data, err := os.ReadFile(c.opts.CachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		return err
	}

	remote := make(map[int]models.AppInfo, len(cache.Servers))
	for _, s := range cache.Servers {
		remote[s.AppID] = models.AppInfo{AppID: s.AppID, Name: s.Name, Description: s.Description, Anonymous: true}
	}

	c.mu.Lock()
	c.remote = remote
	c.lastUpdate = cache.LastUpdate
	c.mu.Unlock()
	return nil
}

// LastUpdate returns when the remote listing was last fetched.
func (c *Catalog) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Stale reports whether the cached remote listing is older than the TTL.
func (c *Catalog) Stale(now time.Time) bool {
	last := c.LastUpdate()
	if last.IsZero() {
		return true
	}
	return c.opts.TTL > 0 && now.Sub(last) > c.opts.TTL
}

// Lookup returns the metadata for appID.
func (c *Catalog) Lookup(appID int) (models.AppInfo, error) {
	if app, ok := c.bundled[appID]; ok {
		return app, nil
	}
	c.mu.RLock()
	app, ok := c.remote[appID]
	c.mu.RUnlock()
	if ok {
		return app, nil
	}
	return models.AppInfo{}, errs.Ef(errs.NotFound, "catalog.lookup", "", "app %d is not in the catalog", appID)
}

// Resolve turns a title or numeric app id into catalog metadata. A title must
// match one entry exactly (case-insensitive) or be the only substring match.
func (c *Catalog) Resolve(query string) (models.AppInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.AppInfo{}, errs.Ef(errs.InvalidRequest, "catalog.resolve", "", "empty title")
	}
	if id, err := strconv.Atoi(query); err == nil {
		return c.Lookup(id)
	}

	matches := c.Search(query, 0)
	for _, app := range matches {
		if strings.EqualFold(app.Name, query) {
			return app, nil
		}
	}
	switch len(matches) {
	case 0:
		return models.AppInfo{}, errs.Ef(errs.NotFound, "catalog.resolve", "", "no title matches %q", query)
	case 1:
		return matches[0], nil
	}

	names := make([]string, 0, 5)
	for i, app := range matches {
		if i == 5 {
			names = append(names, "...")
			break
		}
		names = append(names, fmt.Sprintf("%s (%d)", app.Name, app.AppID))
	}
	return models.AppInfo{}, errs.Ef(errs.InvalidRequest, "catalog.resolve", "",
		"%q matches %d titles: %s", query, len(matches), strings.Join(names, ", "))
}

// Search returns entries whose name contains query, case-insensitively,
// bundled entries first. limit <= 0 means no limit.
func (c *Catalog) Search(query string, limit int) []models.AppInfo {
	needle := strings.ToLower(strings.TrimSpace(query))
	match := func(app models.AppInfo) bool {
		return needle == "" || strings.Contains(strings.ToLower(app.Name), needle)
	}

	out := make([]models.AppInfo, 0)
	for _, app := range sortedApps(c.bundled) {
		if match(app) {
			out = append(out, app)
		}
	}

	c.mu.RLock()
	remote := sortedApps(c.remote)
	c.mu.RUnlock()
	for _, app := range remote {
		if _, dup := c.bundled[app.AppID]; dup {
			continue
		}
		if match(app) {
			out = append(out, app)
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Available lists the bundled titles plus any cached remote ones.
func (c *Catalog) Available() []models.AppInfo {
	return c.Search("", 0)
}

// saveCache writes server_cache.json atomically.
func (c *Catalog) saveCache(apps map[int]models.AppInfo, at time.Time) error {
	cache := cacheFile{LastUpdate: at}
	for _, app := range sortedApps(apps) {
		cache.Servers = append(cache.Servers, cacheEntry{AppID: app.AppID, Name: app.Name, Description: app.Description})
	}

	data, err := json.Marshal(&cache)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.opts.CachePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := c.opts.CachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog cache: %w", err)
	}
	if err := os.Rename(tmp, c.opts.CachePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace catalog cache: %w", err)
	}
	return nil
}

func sortedApps(apps map[int]models.AppInfo) []models.AppInfo {
	out := make([]models.AppInfo, 0, len(apps))
	for _, app := range apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool {
		if !strings.EqualFold(out[i].Name, out[j].Name) {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		return out[i].AppID < out[j].AppID
	})
	return out
}
