// Package yandexdisk implements object.Provider over the Yandex Disk REST API.
package yandexdisk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"meetingapp-backend/internal/shared/storage/object"
)

// DefaultAPIURL is the public REST endpoint.
const DefaultAPIURL = "https://cloud-api.yandex.net/v1/disk"

// APIError carries a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yandex disk: status %d: %s", e.Status, e.Message)
}

// Store is a provider authenticated with one owner's OAuth token.
type Store struct {
	http   *http.Client
	apiURL string
	root   string
}

// New builds a provider. base may be nil to use http.DefaultClient.
func New(ctx context.Context, apiURL, token, root string, base *http.Client) (*Store, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &object.UnconfiguredError{Type: object.TypeYandexDisk, Reason: "access token is missing"}
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "OAuth"})
	return &Store{
		http:   oauth2.NewClient(ctx, src),
		apiURL: strings.TrimRight(apiURL, "/"),
		root:   object.NormalizeRoot(root),
	}, nil
}

// Type implements object.Provider.
func (s *Store) Type() object.Type { return object.TypeYandexDisk }

// Root implements object.Provider.
func (s *Store) Root() string { return s.root }

func (s *Store) absolutePath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return s.root + "/" + p
}

type link struct {
	Href string `json:"href"`
}

// Download fetches the file through a one-time download link.
func (s *Store) Download(ctx context.Context, remotePath, localPath string) error {
	var l link
	if err := s.call(ctx, http.MethodGet, "/resources/download", url.Values{"path": {s.absolutePath(remotePath)}}, &l); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: %s", object.ErrNotFound, remotePath)
		}
		return fmt.Errorf("download link: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.Href, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("download: %w", apiError(resp))
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write body: %w", err)
	}
	return f.Close()
}

// Upload creates missing folders and stores the file, overwriting.
func (s *Store) Upload(ctx context.Context, localPath, remotePath string) (object.UploadResult, error) {
	remote := s.absolutePath(remotePath)
	if err := s.ensureDirectory(ctx, path.Dir(remote)); err != nil {
		return object.UploadResult{}, err
	}
	var l link
	q := url.Values{"path": {remote}, "overwrite": {"true"}}
	if err := s.call(ctx, http.MethodGet, "/resources/upload", q, &l); err != nil {
		return object.UploadResult{}, fmt.Errorf("upload link: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return object.UploadResult{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return object.UploadResult{}, fmt.Errorf("stat upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, l.Href, f)
	if err != nil {
		return object.UploadResult{}, err
	}
	req.ContentLength = info.Size()
	resp, err := s.http.Do(req)
	if err != nil {
		return object.UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return object.UploadResult{}, fmt.Errorf("upload: %w", apiError(resp))
	}
	return object.UploadResult{Path: remote, Size: info.Size()}, nil
}

// Delete removes the resource permanently.
func (s *Store) Delete(ctx context.Context, remotePath string) (object.DeleteResult, error) {
	q := url.Values{"path": {s.absolutePath(remotePath)}, "permanently": {"true"}}
	if err := s.call(ctx, http.MethodDelete, "/resources", q, nil); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return object.DeleteResult{NotFound: true}, nil
		}
		return object.DeleteResult{}, fmt.Errorf("delete: %w", err)
	}
	return object.DeleteResult{Deleted: true}, nil
}

func (s *Store) ensureDirectory(ctx context.Context, dir string) error {
	current := ""
	for _, part := range strings.Split(dir, "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		err := s.call(ctx, http.MethodPut, "/resources", url.Values{"path": {current}}, nil)
		if err == nil || isStatus(err, http.StatusConflict) {
			continue
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "already exists") {
			continue
		}
		return fmt.Errorf("create folder %s: %w", current, err)
	}
	return nil
}

func (s *Store) call(ctx context.Context, method, endpoint string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.apiURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func isStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

var _ object.Provider = (*Store)(nil)
