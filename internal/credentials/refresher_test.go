package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "stored-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	refresher := NewOAuthRefresher("client-id", "secret", srv.URL, nil)
	token, err := refresher.Refresh(context.Background(), "stored-refresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
}

func TestRefresh_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	_, err := NewOAuthRefresher("client-id", "secret", srv.URL, nil).Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestRefresh_EmptyToken(t *testing.T) {
	_, err := NewOAuthRefresher("id", "secret", "http://unused", nil).Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}
