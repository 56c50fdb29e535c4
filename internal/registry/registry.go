// Package registry implements the Target Registry: discovery of debuggable
// targets from the browser's HTTP endpoint, and resolution of a caller
// supplied target reference to a concrete target.
//
// Grounded on chromedp's client.Client (client/client.go, client/target.go):
// the same GET-against-a-JSON-endpoint shape, generalized from chromedp's
// "always pick protocol version + browser type first" flow down to just the
// list/resolve/create/close operations spec.md §4.1 names.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cdphost/bridge/internal/cdperr"
)

// TargetType mirrors the "type" field of the browser's /json/list entries.
type TargetType string

// Known target types. Anything else is reported as Other.
const (
	Page   TargetType = "page"
	Worker TargetType = "worker"
	Other  TargetType = "other"
)

// Target is one entry returned by the browser's discovery endpoint.
type Target struct {
	ID    string     `json:"id"`
	Type  TargetType `json:"type"`
	Title string     `json:"title"`
	URL   string     `json:"url"`
	WSURL string     `json:"webSocketDebuggerUrl"`
}

// DefaultDiscoveryTimeout bounds a List call against an unreachable browser.
const DefaultDiscoveryTimeout = 5 * time.Second

// Registry enumerates and resolves debuggable targets against one browser's
// HTTP discovery endpoint (e.g. http://localhost:9222).
type Registry struct {
	endpoint string
	cl       *http.Client
	log      *logrus.Entry
}

// New creates a Registry against the given discovery endpoint base URL
// (scheme + host + port, no path).
func New(endpoint string, log *logrus.Entry) *Registry {
	return &Registry{
		endpoint: endpoint,
		cl:       &http.Client{},
		log:      log.WithField("component", "registry"),
	}
}

func (r *Registry) doReq(ctx context.Context, path string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultDiscoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", cdperr.BrowserUnavailable, err)
	}

	res, err := r.cl.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", cdperr.BrowserUnavailable, err)
	}
	defer res.Body.Close()

	if v == nil {
		return nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", cdperr.BrowserUnavailable, err)
	}
	return json.Unmarshal(body, v)
}

// List returns every discoverable target, sorted by ID ascending so that
// numeric index references are stable across calls, per spec.md §3/§4.1.
func (r *Registry) List(ctx context.Context) ([]Target, error) {
	var targets []Target
	if err := r.doReq(ctx, "/json/list", &targets); err != nil {
		return nil, cdperr.Wrap("list targets", err)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets, nil
}

// pageTargets filters List's result down to page-typed targets, in the same
// sorted order.
func (r *Registry) pageTargets(ctx context.Context) ([]Target, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	pages := make([]Target, 0, len(all))
	for _, t := range all {
		if t.Type == Page {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// Resolve maps a caller-supplied target reference to a concrete Target.
//
// ref may be:
//   - "" (absent): the first page-typed target.
//   - a base-10 integer: the k-th page-typed target in sorted order.
//   - a UUID-looking string: the target whose ID matches exactly.
func (r *Registry) Resolve(ctx context.Context, ref string) (Target, error) {
	if ref == "" {
		pages, err := r.pageTargets(ctx)
		if err != nil {
			return Target{}, err
		}
		if len(pages) == 0 {
			return Target{}, fmt.Errorf("resolve target: %w", cdperr.NotFound)
		}
		return pages[0], nil
	}

	if idx, err := strconv.Atoi(ref); err == nil {
		pages, err := r.pageTargets(ctx)
		if err != nil {
			return Target{}, err
		}
		if idx < 0 || idx >= len(pages) {
			return Target{}, fmt.Errorf("resolve target %d: %w", idx, cdperr.IndexOutOfRange)
		}
		return pages[idx], nil
	}

	if _, err := uuid.Parse(ref); err != nil {
		r.log.WithField("ref", ref).Debug("target reference is not a UUID; matching literally")
	}
	all, err := r.List(ctx)
	if err != nil {
		return Target{}, err
	}
	for _, t := range all {
		if t.ID == ref {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("resolve target %q: %w", ref, cdperr.NotFound)
}

// Create calls the browser's "create tab" endpoint and returns the new
// target.
func (r *Registry) Create(ctx context.Context, pageURL string) (Target, error) {
	path := "/json/new"
	if pageURL != "" {
		path += "?" + url.QueryEscape(pageURL)
	}
	var t Target
	if err := r.doReq(ctx, path, &t); err != nil {
		return Target{}, cdperr.Wrap("create target", err)
	}
	return t, nil
}

// Close closes the target with the given id.
func (r *Registry) Close(ctx context.Context, id string) error {
	if err := r.doReq(ctx, "/json/close/"+url.PathEscape(id), nil); err != nil {
		return cdperr.Wrap("close target", err)
	}
	return nil
}
