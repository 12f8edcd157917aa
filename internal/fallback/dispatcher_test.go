package fallback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaydev/recaptcha-relay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveReturnsProviderToken(t *testing.T) {
	var got solveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(solveResponse{Token: "tok_provider"})
	}))
	defer srv.Close()

	d := New(srv.URL, "key-123", 2*time.Second)
	require.True(t, d.Enabled())

	token, err := d.Solve(context.Background(), models.TokenRequest{TargetID: "proj-9"})
	require.NoError(t, err)
	assert.Equal(t, "tok_provider", token)
	assert.Equal(t, "proj-9", got.TargetID)
	assert.Equal(t, "key-123", got.ClientKey)
}

func TestSolveNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	d := New(srv.URL, "key-123", 2*time.Second)
	_, err := d.Solve(context.Background(), models.TokenRequest{TargetID: "proj-9"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "402")
}

func TestSolveProviderErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(solveResponse{Error: "invalid client key"})
	}))
	defer srv.Close()

	d := New(srv.URL, "key-123", 2*time.Second)
	_, err := d.Solve(context.Background(), models.TokenRequest{TargetID: "proj-9"})
	require.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "invalid client key")
}

func TestSolveEmptyTokenResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(solveResponse{})
	}))
	defer srv.Close()

	d := New(srv.URL, "key-123", 2*time.Second)
	_, err := d.Solve(context.Background(), models.TokenRequest{TargetID: "proj-9"})
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestSolveMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	d := New(srv.URL, "key-123", 2*time.Second)
	_, err := d.Solve(context.Background(), models.TokenRequest{TargetID: "proj-9"})
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestDisabledDispatcher(t *testing.T) {
	assert.False(t, New("", "", time.Second).Enabled())
	assert.False(t, New("http://provider.example", "", time.Second).Enabled())
	assert.False(t, New("", "key", time.Second).Enabled())

	_, err := New("", "", time.Second).Solve(context.Background(), models.TokenRequest{TargetID: "x"})
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestSolveHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := New(srv.URL, "key-123", 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.Solve(ctx, models.TokenRequest{TargetID: "proj-9"})
	require.ErrorIs(t, err, ErrProviderFailed)
	assert.Less(t, time.Since(start), time.Second)
}
