package avito

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/token"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Exchanger trades the client identity for a bearer token.
type Exchanger struct {
	httpClient   *resty.Client
	clientID     string
	clientSecret string
}

func NewExchanger(cfg environments.AvitoConfig) *Exchanger {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.AuthURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Exchanger{
		httpClient:   client,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

func (e *Exchanger) Exchange(ctx context.Context) (token.Grant, error) {
	var body tokenResponse

	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     e.clientID,
			"client_secret": e.clientSecret,
		}).
		SetResult(&body).
		Post("/token")
	if err != nil {
		return token.Grant{}, fmt.Errorf("failed to request token: %w", err)
	}

	if resp.IsError() {
		return token.Grant{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return token.Grant{
		AccessToken: body.AccessToken,
		ExpiresIn:   time.Duration(body.ExpiresIn) * time.Second,
	}, nil
}
