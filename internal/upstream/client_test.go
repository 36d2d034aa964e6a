package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient("", time.Second)
	require.Error(t, err)
}

func TestDeliverSendsDocument(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotAccept      string
		gotBody        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "<profile/>")
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	resp, err := client.Deliver(context.Background(), Document{Data: []byte("hello"), ContentType: "text/plain"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<profile/>", resp.Body)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "text/plain", gotContentType)
	assert.Equal(t, "text/xml", gotAccept)
	assert.Equal(t, []byte("hello"), gotBody)
}

func TestDeliverDefaultsContentType(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	_, err = client.Deliver(context.Background(), Document{Data: []byte{0x00, 0x01}})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", gotContentType)
}

func TestDeliverReportsErrorStatusWithoutError(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client, err := NewClient(server.URL, time.Second)
		require.NoError(t, err)

		resp, err := client.Deliver(context.Background(), Document{Data: []byte("x")})
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		server.Close()
	}
}

func TestDeliverTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(url, time.Second)
	require.NoError(t, err)

	_, err = client.Deliver(context.Background(), Document{Data: []byte("x")})
	require.Error(t, err)
}

func TestDeliverTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(server.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = client.Deliver(context.Background(), Document{Data: []byte("x")})
	require.Error(t, err)
}

func TestDeliverRejectsOversizedResponse(t *testing.T) {
	saved := maxResponseBytes
	maxResponseBytes = 8
	t.Cleanup(func() { maxResponseBytes = saved })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("R", 20))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	resp, err := client.Deliver(context.Background(), Document{Data: []byte("x")})
	require.ErrorIs(t, err, ErrResponseTooLarge)
	assert.Nil(t, resp)
}

func TestDeliverAcceptsResponseAtLimit(t *testing.T) {
	saved := maxResponseBytes
	maxResponseBytes = 8
	t.Cleanup(func() { maxResponseBytes = saved })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "12345678")
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	resp, err := client.Deliver(context.Background(), Document{Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "12345678", resp.Body)
}
