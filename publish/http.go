package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hokuto/pressbeat/errors"
)

// HTTPPublisher publishes via the CMS's REST endpoint with basic auth.
// Outgoing requests are paced by a rate limiter so a catch-up burst does
// not hammer the CMS.
type HTTPPublisher struct {
	url      string
	username string
	password string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
}

// NewHTTPPublisher creates a publisher for the given endpoint.
// requestsPerMinute bounds the publish call rate; zero or negative
// disables pacing.
func NewHTTPPublisher(url, username, password string, requestsPerMinute float64, logger *zap.SugaredLogger) *HTTPPublisher {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(requestsPerMinute / 60.0)
	}
	return &HTTPPublisher{
		url:      strings.TrimRight(url, "/"),
		username: username,
		password: password,
		// Per-call deadlines come from the context, not the client
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Publish posts the content and returns the CMS-assigned post ID
func (p *HTTPPublisher) Publish(ctx context.Context, req *Request) (*Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindTimeout, "deadline elapsed while pacing", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(req.Payload))
	if err != nil {
		return nil, NewError(KindValidation, "failed to build request", err)
	}
	httpReq.SetBasicAuth(p.username, p.password)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindTimeout, "publish request timed out", err)
		}
		return nil, NewError(KindTransient, "publish request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.classifyStatus(req.ContentKey, resp)
	}

	var body struct {
		ID json.Number `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// The CMS accepted the post; losing the ID is not worth a retry
		// that would publish a duplicate
		if p.logger != nil {
			p.logger.Warnw("Publish succeeded but response was unparseable",
				"content_key", req.ContentKey,
				"status", resp.StatusCode,
				"error", err,
			)
		}
		return &Result{}, nil
	}

	if p.logger != nil {
		p.logger.Infow("Published to CMS",
			"content_key", req.ContentKey,
			"external_post_id", body.ID.String(),
		)
	}
	return &Result{ExternalPostID: body.ID.String()}, nil
}

// Ping verifies the endpoint accepts our credentials
func (p *HTTPPublisher) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build ping request")
	}
	httpReq.SetBasicAuth(p.username, p.password)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return NewError(KindTransient, "ping failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewError(KindAuth, "ping rejected: "+resp.Status, nil)
	}
	if resp.StatusCode >= 400 {
		return NewError(KindTransient, "ping returned "+resp.Status, nil)
	}
	return nil
}

func (p *HTTPPublisher) classifyStatus(contentKey string, resp *http.Response) error {
	snippet := readSnippet(resp.Body)
	msg := resp.Status
	if snippet != "" {
		msg += ": " + snippet
	}

	var kind Kind
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = KindAuth
	case resp.StatusCode == http.StatusRequestTimeout:
		kind = KindTimeout
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = KindTransient
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		kind = KindValidation
	default:
		kind = KindTransient
	}

	if p.logger != nil {
		p.logger.Warnw("CMS rejected publish",
			"content_key", contentKey,
			"status", resp.StatusCode,
			"kind", kind.String(),
		)
	}
	return NewError(kind, msg, nil)
}

// readSnippet returns up to 256 bytes of the response body for error messages
func readSnippet(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
