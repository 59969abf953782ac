package genie

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoCredentials is returned when neither a token nor client credentials are configured.
var ErrNoCredentials = errors.New("genie: no credentials configured, set DATABRICKS_TOKEN or DATABRICKS_CLIENT_ID/DATABRICKS_CLIENT_SECRET")

// StaticToken is a pre-issued personal access token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// ClientCredentials mints workspace tokens for a service principal and reuses
// them until they expire.
type ClientCredentials struct {
	source oauth2.TokenSource
}

// NewClientCredentials builds an OAuth M2M token source against the workspace host.
func NewClientCredentials(host, clientID, clientSecret string) (*ClientCredentials, error) {
	base, err := hostURL(host)
	if err != nil {
		return nil, err
	}
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     base + "/oidc/v1/token",
		Scopes:       []string{"all-apis"},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return &ClientCredentials{source: cfg.TokenSource(context.Background())}, nil
}

func (c *ClientCredentials) Token(context.Context) (string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return "", classifyTokenError(err)
	}
	return tok.AccessToken, nil
}

func classifyTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		code := rerr.Response.StatusCode
		kind := classifyStatus(code)
		if code == http.StatusBadRequest {
			kind = KindPermission
		}
		return &Error{Kind: kind, Op: "mint_token", StatusCode: code, Err: err}
	}
	return &Error{Kind: KindTransient, Op: "mint_token", Err: err}
}

// NewTokenSource picks the credential flow from whatever the platform supplied.
// A static token wins over client credentials.
func NewTokenSource(host, token, clientID, clientSecret string) (TokenSource, error) {
	if token = strings.TrimSpace(token); token != "" {
		return StaticToken(token), nil
	}
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	if clientID != "" && clientSecret != "" {
		return NewClientCredentials(host, clientID, clientSecret)
	}
	return nil, ErrNoCredentials
}
