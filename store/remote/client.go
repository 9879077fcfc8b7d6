/*
Package remote stores workflow entities in an external HTTP persistence service.

PURPOSE:
  Implements generic.Store, generic.CertificateStore and generic.AuditLog
  over a small JSON API. Used when the workflow engine runs next to an
  existing HR system that owns the records.

WIRE CONTRACT:
  GET    {base}/entities/{id}              200 entity | 404
  POST   {base}/entities                   201 | 409 duplicate
  PUT    {base}/entities/{id}              200 | 404 | 409/412 conflict
         If-Match: <expected version>
         X-Expected-Status: <expected status>
  DELETE {base}/entities/{id}              204 | 404
  GET    {base}/entities?kind=&status=&requester=&assigned_to=&needs_regeneration=&limit=
  PUT    {base}/entities/{id}/certificate  application/pdf body
  GET    {base}/entities/{id}/certificate  200 pdf | 404
  POST   {base}/audit
  GET    {base}/audit?entity_id=&actor_id=&action=

RETRIES:
  Transport errors and 5xx responses are retried by go-retryablehttp with
  exponential backoff. 409 and 412 are never retried: a version conflict
  surfaces as ErrConcurrentModification so the caller reloads.

SEE ALSO:
  - generic/store.go: Compare-and-swap contract
  - store/sqlite: Local implementation of the same interfaces
*/
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/warp/hr-workflow/generic"
)

const (
	headerIfMatch        = "If-Match"
	headerExpectedStatus = "X-Expected-Status"
)

type Options struct {
	BaseURL  string
	RetryMax int
	Timeout  time.Duration
	Logger   zerolog.Logger
	// HTTPClient replaces the underlying transport client, mostly for tests.
	HTTPClient *http.Client
}

type Client struct {
	base string
	http *retryablehttp.Client
	log  zerolog.Logger
}

var (
	_ generic.Store            = (*Client)(nil)
	_ generic.CertificateStore = (*Client)(nil)
	_ generic.AuditLog         = (*Client)(nil)
)

func New(opts Options) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, errors.Wrapf(err, "invalid remote store url %q", opts.BaseURL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{log: opts.Logger.With().Str("component", "remote_store").Logger()}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.HTTPClient != nil {
		rc.HTTPClient = opts.HTTPClient
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}

	return &Client{
		base: strings.TrimRight(opts.BaseURL, "/"),
		http: rc,
		log:  opts.Logger.With().Str("component", "remote_store").Logger(),
	}, nil
}

// checkRetry never retries a conflict; everything else follows the default policy.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// =============================================================================
// ENTITY STORE
// =============================================================================

func (c *Client) Get(ctx context.Context, id generic.EntityID) (*generic.Entity, error) {
	var doc entityDoc
	status, err := c.do(ctx, http.MethodGet, "/entities/"+url.PathEscape(string(id)), nil, nil, &doc)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, errors.Wrapf(generic.ErrEntityNotFound, "entity %s", id)
	}
	return doc.toEntity(), nil
}

func (c *Client) Create(ctx context.Context, e *generic.Entity) error {
	status, err := c.do(ctx, http.MethodPost, "/entities", nil, fromEntity(e), nil)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		return errors.Newf("entity %s already exists", e.ID)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, e *generic.Entity, expectedStatus generic.Status, expectedVersion int) error {
	headers := http.Header{}
	headers.Set(headerIfMatch, strconv.Itoa(expectedVersion))
	headers.Set(headerExpectedStatus, string(expectedStatus))

	status, err := c.do(ctx, http.MethodPut, "/entities/"+url.PathEscape(string(e.ID)), headers, fromEntity(e), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusNotFound:
		return errors.Wrapf(generic.ErrEntityNotFound, "entity %s", e.ID)
	case http.StatusConflict, http.StatusPreconditionFailed:
		c.log.Debug().Str("entity_id", string(e.ID)).Int("expected_version", expectedVersion).Msg("version conflict")
		return errors.WithHint(
			errors.Wrapf(generic.ErrConcurrentModification, "entity %s no longer %s v%d", e.ID, expectedStatus, expectedVersion),
			"this request was changed by someone else; reload and try again")
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id generic.EntityID) error {
	status, err := c.do(ctx, http.MethodDelete, "/entities/"+url.PathEscape(string(id)), nil, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return errors.Wrapf(generic.ErrEntityNotFound, "entity %s", id)
	}
	return nil
}

func (c *Client) List(ctx context.Context, filter generic.Filter) ([]*generic.Entity, error) {
	q := url.Values{}
	if filter.Kind != "" {
		q.Set("kind", string(filter.Kind))
	}
	for _, s := range filter.Statuses {
		q.Add("status", string(s))
	}
	if filter.RequesterRef != "" {
		q.Set("requester", string(filter.RequesterRef))
	}
	for _, ref := range filter.AssignedTo {
		q.Add("assigned_to", ref)
	}
	if filter.NeedsRegeneration {
		q.Set("needs_regeneration", "true")
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var docs []entityDoc
	path := "/entities"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &docs); err != nil {
		return nil, err
	}
	out := make([]*generic.Entity, 0, len(docs))
	for _, d := range docs {
		e := d.toEntity()
		// The service may ignore filters it does not know.
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// CERTIFICATES
// =============================================================================

func (c *Client) SaveCertificate(ctx context.Context, id generic.EntityID, pdf []byte) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/entities/"+url.PathEscape(string(id))+"/certificate", bytes.NewReader(pdf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/pdf")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "save certificate for %s", id)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	return nil
}

func (c *Client) GetCertificate(ctx context.Context, id generic.EntityID) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/entities/"+url.PathEscape(string(id))+"/certificate", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "load certificate for %s", id)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(generic.ErrCertificateNotFound, "entity %s", id)
	}
	if resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

// =============================================================================
// AUDIT
// =============================================================================

func (c *Client) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	_, err := c.do(ctx, http.MethodPost, "/audit", nil, fromAudit(entry), nil)
	return err
}

func (c *Client) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	q := url.Values{}
	if filter.EntityID != "" {
		q.Set("entity_id", string(filter.EntityID))
	}
	if filter.ActorID != "" {
		q.Set("actor_id", filter.ActorID)
	}
	for _, a := range filter.Actions {
		q.Add("action", string(a))
	}
	if filter.From != nil {
		q.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		q.Set("to", filter.To.UTC().Format(time.RFC3339))
	}
	path := "/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var docs []auditDoc
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &docs); err != nil {
		return nil, err
	}
	out := make([]generic.AuditEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toEntry())
	}
	return out, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do sends a JSON request. 404 and 409/412 are returned as status codes for
// the caller to interpret; other non-2xx responses become errors.
func (c *Client) do(ctx context.Context, method, path string, headers http.Header, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusPreconditionFailed:
		return resp.StatusCode, nil
	case resp.StatusCode >= 300:
		return resp.StatusCode, c.statusError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Wrapf(err, "decode %s %s", method, path)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	return req, nil
}

func (c *Client) statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return errors.Newf("remote store: %s %s returned %d: %s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// leveledLogger routes retryablehttp's logging through zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (l leveledLogger) Error(msg string, kv ...any) { l.event(l.log.Error(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.event(l.log.Warn(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.event(l.log.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.event(l.log.Trace(), msg, kv) }

func (l leveledLogger) event(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		ev = ev.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	ev.Msg(msg)
}
