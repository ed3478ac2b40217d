package credentials

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrNoRefreshToken is returned when there is nothing to exchange
var ErrNoRefreshToken = errors.New("credentials: refresh token is empty")

// OAuthRefresher mints access tokens from stored refresh tokens
type OAuthRefresher struct {
	config *oauth2.Config
}

// NewOAuthRefresher creates a refresher for the given OAuth client
func NewOAuthRefresher(clientID, clientSecret, tokenURL string, scopes []string) *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Refresh exchanges refreshToken for a new access token
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	token, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}

	return token.AccessToken, nil
}
