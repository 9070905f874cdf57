// Package livesync keeps local collections consistent with the backend by
// following its shape log: an initial snapshot followed by live long polls
// that deliver row changes as they happen.
package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/avvvet/tcg-companion/internal/collection"
	log "github.com/sirupsen/logrus"
)

const (
	HeaderHandle   = "electric-handle"
	HeaderOffset   = "electric-offset"
	HeaderUpToDate = "electric-up-to-date"

	ControlUpToDate    = "up-to-date"
	ControlMustRefetch = "must-refetch"

	initialOffset = "-1"
)

var ErrSyncFailed = errors.New("collection sync failed")

// Target receives what a Stream reads. *collection.Collection satisfies it.
type Target interface {
	Apply(batch []collection.Change) error
	Truncate()
	MarkReady()
	Len() int
}

type Message struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Headers struct {
		Operation string `json:"operation"`
		Control   string `json:"control"`
	} `json:"headers"`
}

// Stream follows one table.
type Stream struct {
	endpoint string
	table    string
	client   *http.Client
	target   Target

	handle string
	offset string
	live   bool
}

// NewStream follows table at baseURL + "/sync/" + table. client carries the
// caller's credentials.
func NewStream(baseURL, table string, client *http.Client, target Target) *Stream {
	if client == nil {
		client = http.DefaultClient
	}
	return &Stream{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/sync/" + url.PathEscape(table),
		table:    table,
		client:   client,
		target:   target,
		offset:   initialOffset,
	}
}

// Run polls until ctx is done or the backend answers with an error. A
// cancelled context is not reported as an error.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Poll performs one request against the shape log and applies its result.
func (s *Stream) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.requestURL(), nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSyncFailed, s.table, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSyncFailed, s.table, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		s.refetch(resp.Header.Get(HeaderHandle))
		return nil
	case resp.StatusCode == http.StatusNoContent:
		s.advance(resp.Header)
		s.upToDate()
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", ErrSyncFailed, s.table, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil && err != io.EOF {
		return fmt.Errorf("%w: %s: decode: %v", ErrSyncFailed, s.table, err)
	}

	var (
		batch    []collection.Change
		upToDate = resp.Header.Get(HeaderUpToDate) != ""
	)
	for _, m := range msgs {
		switch {
		case m.Headers.Control == ControlMustRefetch:
			s.refetch(resp.Header.Get(HeaderHandle))
			return nil
		case m.Headers.Control == ControlUpToDate:
			upToDate = true
		case m.Headers.Operation != "":
			batch = append(batch, collection.Change{
				Op:    collection.Op(m.Headers.Operation),
				Key:   m.Key,
				Value: m.Value,
			})
		}
	}

	if err := s.target.Apply(batch); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSyncFailed, s.table, err)
	}
	s.advance(resp.Header)
	if upToDate {
		s.upToDate()
	}

	log.WithFields(log.Fields{
		"table":   s.table,
		"changes": len(batch),
		"rows":    s.target.Len(),
		"offset":  s.offset,
		"live":    s.live,
	}).Debug("shape poll applied")
	return nil
}

func (s *Stream) requestURL() string {
	q := url.Values{}
	q.Set("offset", s.offset)
	if s.handle != "" {
		q.Set("handle", s.handle)
	}
	if s.live {
		q.Set("live", "true")
	}
	return s.endpoint + "?" + q.Encode()
}

func (s *Stream) advance(h http.Header) {
	if v := h.Get(HeaderHandle); v != "" {
		s.handle = v
	}
	if v := h.Get(HeaderOffset); v != "" {
		s.offset = v
	}
}

func (s *Stream) upToDate() {
	s.live = true
	s.target.MarkReady()
}

func (s *Stream) refetch(handle string) {
	log.WithField("table", s.table).Info("shape must be refetched")
	s.handle = handle
	s.offset = initialOffset
	s.live = false
	s.target.Truncate()
}
