package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// githubFetcher downloads a plugin subtree from a GitHub-contents-API-shaped
// catalog source. Adapted from the teacher's GitHubClient
// (pkg/runbook/github.go): same bearer-token auth, same recursive contents
// listing, generalized here to download every file (not just markdown) and
// write it to disk instead of collecting blob URLs.
type githubFetcher struct {
	httpClient *http.Client
	token      string
}

func newGitHubFetcher(token string) *githubFetcher {
	return &githubFetcher{httpClient: &http.Client{Timeout: 30 * time.Second}, token: token}
}

type githubContentItem struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"` // "file" or "dir"
	DownloadURL string `json:"download_url"`
}

func (f *githubFetcher) setAuthHeader(req *http.Request) {
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
}

// downloadSubtree recursively mirrors apiURL's contents tree into destDir.
func (f *githubFetcher) downloadSubtree(ctx context.Context, apiURL, destDir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	f.setAuthHeader(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("list contents at %s: %w", apiURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitHub API returned HTTP %d for %s", resp.StatusCode, apiURL)
	}

	var items []githubContentItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return fmt.Errorf("decode contents response: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	for _, item := range items {
		switch item.Type {
		case "file":
			if err := f.downloadFile(ctx, item.DownloadURL, filepath.Join(destDir, item.Name)); err != nil {
				return fmt.Errorf("download %s: %w", item.Path, err)
			}
		case "dir":
			subURL := apiURL
			if idx := strings.Index(apiURL, "?"); idx >= 0 {
				subURL = apiURL[:idx] + "/" + item.Name + apiURL[idx:]
			} else {
				subURL = apiURL + "/" + item.Name
			}
			if err := f.downloadSubtree(ctx, subURL, filepath.Join(destDir, item.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *githubFetcher) downloadFile(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	f.setAuthHeader(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitHub returned HTTP %d for %s", resp.StatusCode, rawURL)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}
