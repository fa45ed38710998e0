package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPStore is the client-side Store: uploads go to the server's asset
// endpoint, existence checks are HEAD requests.
type HTTPStore struct {
	BaseURL string // e.g. http://host:8080/v1/assets
	Client  *http.Client
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{BaseURL: strings.TrimRight(baseURL, "/"), Client: http.DefaultClient}
}

func (s *HTTPStore) Upload(ctx context.Context, name string, r io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.BaseURL+"/"+name, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload %s: status %d: %w", name, resp.StatusCode, ErrRejected)
	}
	return nil
}

func (s *HTTPStore) Exists(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.BaseURL+"/"+name, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("exists %s: status %d", name, resp.StatusCode)
	}
}
