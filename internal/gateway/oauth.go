package gateway

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuthOpts configures client-credentials authentication for model servers
// that sit behind an OAuth2 gateway.
type OAuthOpts struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewTokenSource returns a caching token source for the client-credentials
// grant described by opts.
func NewTokenSource(ctx context.Context, opts OAuthOpts) (oauth2.TokenSource, error) {
	if opts.TokenURL == "" {
		return nil, fmt.Errorf("gateway: oauth: token_url is required")
	}
	if opts.ClientID == "" {
		return nil, fmt.Errorf("gateway: oauth: client_id is required")
	}
	cc := &clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     opts.TokenURL,
		Scopes:       opts.Scopes,
	}
	return cc.TokenSource(ctx), nil
}
