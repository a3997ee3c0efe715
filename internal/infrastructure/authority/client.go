package authority

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/hms-gateway/domain"
	appLogger "github.com/fastygo/hms-gateway/pkg/logger"
)

// VerifyPath is the authority endpoint that validates bearer tokens.
const VerifyPath = "/api/auth/verify"

// Client talks to the external authentication authority.
type Client struct {
	http      *fasthttp.Client
	verifyURL string
	timeout   time.Duration
}

// New builds a client for the authority rooted at baseURL. Every call is
// bounded by timeout, or by the caller's deadline when that is earlier.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("authority url %q is not absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		http: &fasthttp.Client{
			Name:                     "hms-gateway",
			ReadTimeout:              timeout,
			WriteTimeout:             timeout,
			MaxIdleConnDuration:      time.Minute,
			NoDefaultUserAgentHeader: true,
		},
		verifyURL: u.String() + VerifyPath,
		timeout:   timeout,
	}, nil
}

// Verify asks the authority whether token is valid. A nil error means the
// authority answered 2xx. Rejections wrap domain.ErrTokenRejected; transport
// failures, timeouts and cancellation are ErrCodeUnavailable errors.
func (c *Client) Verify(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrCodeUnavailable, "verify request cancelled", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(c.verifyURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	if reqID := appLogger.RequestIDFromContext(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	done := make(chan error, 1)
	go func() {
		done <- c.http.DoDeadline(req, resp, deadline)
	}()

	select {
	case <-ctx.Done():
		// The in-flight call finishes on its own deadline; only then can the
		// pooled request and response be reused.
		go func() {
			<-done
			release()
		}()
		return domain.WrapError(domain.ErrCodeUnavailable, "verify request cancelled", ctx.Err())
	case err := <-done:
		defer release()
		if err != nil {
			return domain.WrapError(domain.ErrCodeUnavailable, "verify request failed", err)
		}
		status := resp.StatusCode()
		if status < fasthttp.StatusOK || status >= fasthttp.StatusMultipleChoices {
			return domain.WrapError(domain.ErrCodeUnauthorized,
				fmt.Sprintf("authority answered %d", status), domain.ErrTokenRejected)
		}
		return nil
	}
}
