// Package proxy forwards /api requests to the backend on behalf of the
// signed-in user.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// TokenFunc resolves the bearer token for an inbound request.
// ok is false when the request carries no usable session.
type TokenFunc func(r *http.Request) (token string, ok bool)

type Proxy struct {
	backend string
	tokens  TokenFunc
	client  *http.Client
}

// maxRedirects matches the limit of net/http's default policy.
const maxRedirects = 10

// New returns a proxy to backendURL. A nil client gets one that follows
// backend redirects for GET and HEAD only; other methods get the 3xx back.
func New(backendURL string, tokens TokenFunc, client *http.Client) *Proxy {
	if client == nil {
		client = &http.Client{CheckRedirect: followReplayable}
	}
	if tokens == nil {
		tokens = func(*http.Request) (string, bool) { return "", false }
	}
	return &Proxy{
		backend: strings.TrimSuffix(backendURL, "/"),
		tokens:  tokens,
		client:  client,
	}
}

// UpstreamPath maps an inbound path to the backend path: one leading /api
// segment and one trailing slash are dropped, and an empty result becomes /.
func UpstreamPath(p string) string {
	if p == "/api" || strings.HasPrefix(p, "/api/") {
		p = strings.TrimPrefix(p, "/api")
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// followReplayable lets the client chase redirects of requests without a
// body, such as the trailing slash redirect of the backend router.
func followReplayable(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	switch via[0].Method {
	case http.MethodGet, http.MethodHead:
		return nil
	default:
		return http.ErrUseLastResponse
	}
}

// Target is the backend URL r is forwarded to. The path is taken in its
// escaped form so encoded reserved characters reach the backend unchanged.
func (p *Proxy) Target(r *http.Request) string {
	target := p.backend + UpstreamPath(r.URL.EscapedPath())
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, p.Target(r), body)
	if err != nil {
		log.Errorf("proxy: unable to build request for %s: %s", r.URL.Path, err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	out.Header = r.Header.Clone()
	out.Header.Del("Host")
	if body != nil {
		out.ContentLength = r.ContentLength
	}
	if token, ok := p.tokens(r); ok && token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := p.client.Do(out)
	if err != nil {
		log.WithFields(log.Fields{
			"method": r.Method,
			"target": out.URL.Path,
		}).Errorf("proxy: backend request failed: %s", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	header := w.Header()
	for k, vv := range res.Header {
		header[k] = append([]string(nil), vv...)
	}
	w.WriteHeader(res.StatusCode)

	if err := copyFlush(w, res.Body); err != nil {
		log.Debugf("proxy: response stream for %s ended: %s", r.URL.Path, err)
	}
}

// copyFlush streams src to w, flushing after every chunk so long poll and
// sync responses are not held back by buffering.
func copyFlush(w http.ResponseWriter, src io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
