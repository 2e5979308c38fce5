package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/log"
)

const (
	SessionTokenHeader = "X-Session-Token"
	maxHintBodyBytes   = 64 * 1024
)

// ManifestClient fetches session manifests, waiting out STREAMING_ASSET_NOT_READY responses
// using the retry hint the server advertises
type ManifestClient struct {
	httpClient *retryablehttp.Client
}

// A 503 body buffered by the retry policy, along with the hint parsed from it. The retry loop
// drains the body before computing the wait, so the hint has to travel with the response.
type hintedBody struct {
	io.Reader
	hint  time.Duration
	found bool
}

func (hintedBody) Close() error { return nil }

func NewManifestClient(maxRetries int, minDelay time.Duration) ManifestClient {
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries               // Retry a maximum of this+1 times
	client.RetryWaitMin = minDelay             // Never retry sooner than this, whatever the hint says
	client.RetryWaitMax = MaxStartupRetryDelay // Never wait longer than this between attempts
	client.CheckRetry = checkStartupRetry
	client.Backoff = startupBackoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: 30 * time.Second, // The server holds manifest requests open for up to its startup window
	}

	return ManifestClient{
		httpClient: client,
	}
}

// FetchManifest returns the manifest body once the server reports the asset is ready to play. If it
// is still not ready after the last retry the error is a retryable STREAMING_ASSET_NOT_READY
// carrying the server's hint. Any other failed response is returned as unretriable.
func (c ManifestClient) FetchManifest(ctx context.Context, manifestURL, token string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest request: %w", err)
	}
	req.Header.Set(SessionTokenHeader, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %q: %w", manifestURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest body: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		// Still starting up once the retries ran out, so the caller may try again later
		hint, _ := ParseStartupRetryHint(body)
		return nil, caterrs.NewAssetNotReadyError(hint, fmt.Errorf("failed to fetch manifest %q. HTTP Code: %d. Body: %s", manifestURL, resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, caterrs.Unretriable(fmt.Errorf("failed to fetch manifest %q. HTTP Code: %d. Body: %s", manifestURL, resp.StatusCode, body))
	}
	return body, nil
}

func checkStartupRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && resp.StatusCode == http.StatusServiceUnavailable {
		b, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHintBodyBytes))
		resp.Body.Close()
		if readErr != nil {
			b = nil
		}
		hint, found := ParseStartupRetryHint(b)
		resp.Body = hintedBody{Reader: bytes.NewReader(b), hint: hint, found: found}
		return true, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func startupBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil {
		if hb, ok := resp.Body.(hintedBody); ok && hb.found {
			return RetryDelay(hb.hint, min, max)
		}
	}
	return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
}
