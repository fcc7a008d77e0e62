package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheGojiOG/steamserv/internal/errs"
)

const appListBody = `{"applist":{"apps":[
	{"appid":4000,"name":"Garry's Mod"},
	{"appid":556450,"name":"The Forest Dedicated Server"},
	{"appid":1026340,"name":"Stationeers Dedicated Server"},
	{"appid":999999,"name":""}
]}}`

func newTestCatalog(t *testing.T, url string) (*Catalog, string) {
	t.Helper()
	cachePath := filepath.Join(t.TempDir(), "server_cache.json")
	c, err := New(Options{CachePath: cachePath, URL: url, TTL: time.Hour, DedicatedOnly: true})
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	return c, cachePath
}

func TestLookupBundled(t *testing.T) {
	c, _ := newTestCatalog(t, "")

	app, err := c.Lookup(730)
	if err != nil {
		t.Fatalf("failed to look up 730: %v", err)
	}
	if app.Launch == "" || !app.Anonymous {
		t.Fatalf("unexpected entry: %+v", app)
	}

	if _, err := c.Lookup(1); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	c, _ := newTestCatalog(t, "")

	app, err := c.Resolve("valheim")
	if err != nil {
		t.Fatalf("failed to resolve valheim: %v", err)
	}
	if app.AppID != 896660 {
		t.Fatalf("expected 896660, got %d", app.AppID)
	}

	app, err = c.Resolve("740")
	if err != nil || app.AppID != 740 {
		t.Fatalf("expected 740, got %+v (%v)", app, err)
	}

	if _, err := c.Resolve("counter-strike"); !errs.Is(err, errs.InvalidRequest) {
		t.Fatalf("expected ambiguous title to be InvalidRequest, got %v", err)
	}
	if _, err := c.Resolve("minesweeper"); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	c, _ := newTestCatalog(t, "")

	results := c.Search("DEDICATED SERVER", 3)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Name > results[i].Name {
			t.Fatalf("results not sorted: %q before %q", results[i-1].Name, results[i].Name)
		}
	}
}

func TestRefreshWritesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(appListBody))
	}))
	defer srv.Close()

	c, cachePath := newTestCatalog(t, srv.URL)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !c.Stale(now) {
		t.Fatal("expected empty catalog to be stale")
	}

	n, err := c.Refresh(context.Background(), now)
	if err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 dedicated servers kept, got %d", n)
	}
	if _, err := c.Lookup(556450); err != nil {
		t.Fatalf("refreshed title missing: %v", err)
	}
	if _, err := c.Lookup(4000); err == nil {
		t.Fatal("expected client build to be filtered out")
	}
	if c.Stale(now.Add(time.Minute)) {
		t.Fatal("expected fresh catalog after refresh")
	}

	reloaded, err := New(Options{CachePath: cachePath, TTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to reload catalog: %v", err)
	}
	if !reloaded.LastUpdate().Equal(now) {
		t.Fatalf("expected last update %v, got %v", now, reloaded.LastUpdate())
	}
	if _, err := reloaded.Lookup(1026340); err != nil {
		t.Fatalf("cached title missing after reload: %v", err)
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, cachePath := newTestCatalog(t, srv.URL)
	if _, err := c.Refresh(context.Background(), time.Now()); !errs.Is(err, errs.AdapterFailure) {
		t.Fatalf("expected AdapterFailure, got %v", err)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Fatalf("expected no cache file, stat err = %v", err)
	}
}

func TestCorruptCacheIsIgnored(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "server_cache.json")
	if err := os.WriteFile(cachePath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}
	c, err := New(Options{CachePath: cachePath})
	if err != nil {
		t.Fatalf("expected corrupt cache to be ignored, got %v", err)
	}
	if _, err := c.Lookup(740); err != nil {
		t.Fatalf("bundled listing should still load: %v", err)
	}
}
