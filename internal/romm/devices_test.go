package romm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/devices", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req deviceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "steamdeck", req.Name)
		assert.Equal(t, "linux", req.Platform)
		assert.Equal(t, clientName, req.Client)

		_, _ = w.Write([]byte(`{"device_id": "dev-abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	dev, err := c.RegisterDevice(context.Background(), "steamdeck", "linux")
	require.NoError(t, err)
	assert.Equal(t, "dev-abc", dev.ID)
	assert.Equal(t, "steamdeck", dev.Name)
}

func TestRegisterDevice_AcceptsIDField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": "dev-xyz"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	dev, err := c.RegisterDevice(context.Background(), "h", "p")
	require.NoError(t, err)
	assert.Equal(t, "dev-xyz", dev.ID)
}

func TestRegisterDevice_EmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.RegisterDevice(context.Background(), "h", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device id")
}

func TestRegisterDevice_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.RegisterDevice(context.Background(), "h", "p")
	assert.ErrorIs(t, err, ErrForbidden)
}
