// Package avito adapts the classifieds messenger API. Its chat ids carry no
// namespace prefix, so it serves as the router's default adapter.
package avito

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/internal/metrics"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

type tokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

type Client struct {
	httpClient *resty.Client
	tokens     tokenSource

	mu        sync.Mutex
	accountID int64
}

func NewClient(cfg environments.AvitoConfig, tokens tokenSource) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		tokens:     tokens,
	}
}

func (c *Client) Source() domain.Source {
	return domain.SourceAvito
}

var errUnauthorized = errors.New("unauthorized after token refresh")

// do performs an authorized call. A 401 drops the cached token and the call is
// repeated once with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	for attempt := 0; attempt < 2; attempt++ {
		accessToken, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		req := c.httpClient.R().
			SetContext(ctx).
			SetAuthToken(accessToken)
		if body != nil {
			req.SetBody(body)
		}
		if result != nil {
			req.SetResult(result)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}

		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			logger.Warnf("Avito answered 401 for %s %s, refreshing token", method, path)
			c.tokens.Invalidate()
			continue
		}

		if resp.IsError() {
			if resp.StatusCode() == http.StatusUnauthorized {
				return errUnauthorized
			}
			return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
		}

		return nil
	}

	return errUnauthorized
}

type accountResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// account returns the id of the authenticated account, fetched once.
func (c *Client) account(ctx context.Context) (int64, error) {
	c.mu.Lock()
	id := c.accountID
	c.mu.Unlock()

	if id != 0 {
		return id, nil
	}

	var acc accountResponse
	if err := c.do(ctx, resty.MethodGet, "/core/v1/accounts/self", nil, &acc); err != nil {
		return 0, fmt.Errorf("failed to get account: %w", err)
	}
	if acc.ID == 0 {
		return 0, errors.New("account id missing in profile response")
	}

	c.mu.Lock()
	c.accountID = acc.ID
	c.mu.Unlock()

	return acc.ID, nil
}

func (c *Client) observe(op string, err error) error {
	metrics.ObserveAdapterCall(string(domain.SourceAvito), op, err)
	if err != nil {
		return apperrors.NewAdapterError(domain.SourceAvito, op, err)
	}
	return nil
}
