// Package cards talks to the collection backend: card CRUD and the signed
// upload handshake.
package cards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/avvvet/tcg-companion/internal/models"
)

var (
	ErrUploadURL    = errors.New("could not obtain upload location")
	ErrStorageWrite = errors.New("storage write failed")
	ErrCreateCard   = errors.New("card creation failed")
	ErrFetch        = errors.New("card fetch failed")
	ErrDelete       = errors.New("card delete failed")
	ErrNotFound     = errors.New("card not found")
	ErrNotImage     = errors.New("file is not an image")
	ErrEmptyFile    = errors.New("file is empty")
)

// StatusError is a non-2xx answer from the backend or the storage service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.kind }

type Client struct {
	baseURL    string
	httpClient *http.Client
	storage    *http.Client
}

// NewClient creates a client for the backend at baseURL. httpClient is
// expected to authenticate requests (see oauth2.NewClient); storage is used
// for the signed URL PUT and must not, since a signed URL already carries its
// own credentials.
func NewClient(baseURL string, httpClient, storage *http.Client) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if storage == nil {
		storage = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		storage:    storage,
	}
}

// RequestUploadURL asks the backend for a signed write target.
func (c *Client) RequestUploadURL(ctx context.Context, filename, contentType string) (*models.UploadTarget, error) {
	payload := map[string]string{"filename": filename, "content_type": contentType}

	var target models.UploadTarget
	if err := c.doJSON(ctx, http.MethodPost, "/cards/upload-url", payload, &target, "request upload url", ErrUploadURL); err != nil {
		return nil, err
	}
	if target.UploadURL == "" || target.ImagePath == "" {
		return nil, fmt.Errorf("%w: incomplete upload target", ErrUploadURL)
	}
	return &target, nil
}

// PutObject writes the raw file to a signed upload URL.
func (c *Client) PutObject(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrStorageWrite, err)
	}
	req.Header.Set("Content-Type", contentType)
	if size > 0 {
		req.ContentLength = size
	}

	resp, err := c.storage.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	defer resp.Body.Close()

	if !ok(resp.StatusCode) {
		return statusError("put object", resp, ErrStorageWrite)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// CreateCard registers an uploaded image as a new card. A nil card with a nil
// error means the backend accepted the record without echoing it back.
func (c *Client) CreateCard(ctx context.Context, imagePath string) (*models.Card, error) {
	var card *models.Card
	payload := map[string]string{"image_path": imagePath}
	if err := c.doJSON(ctx, http.MethodPost, "/cards/", payload, &card, "create card", ErrCreateCard); err != nil {
		return nil, err
	}
	return card, nil
}

func (c *Client) ListCards(ctx context.Context) ([]models.Card, error) {
	var cards []models.Card
	if err := c.doJSON(ctx, http.MethodGet, "/cards/", nil, &cards, "list cards", ErrFetch); err != nil {
		return nil, err
	}
	return cards, nil
}

func (c *Client) GetCard(ctx context.Context, id string) (*models.Card, error) {
	var card models.Card
	err := c.doJSON(ctx, http.MethodGet, "/cards/"+url.PathEscape(id), nil, &card, "get card", ErrFetch)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &card, nil
}

// DeleteCard permanently removes one card.
func (c *Client) DeleteCard(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrDelete)
	}
	return c.doJSON(ctx, http.MethodDelete, "/cards/"+url.PathEscape(id), nil, nil, "delete card", ErrDelete)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any, op string, kind error) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: failed to encode request: %v", kind, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", kind, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s failed: %v", kind, op, err)
	}
	defer resp.Body.Close()

	if !ok(resp.StatusCode) {
		return statusError(op, resp, kind)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", kind, err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", kind, err)
	}
	return nil
}

func ok(code int) bool { return code >= 200 && code < 300 }

func statusError(op string, resp *http.Response, kind error) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
		kind:       kind,
	}
}
