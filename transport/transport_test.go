package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpgradeRejectsPlainHTTPWith426(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := Upgrade(w, r)
		require.Error(t, err)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestDialSendReceiveRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		require.NoError(t, err)
		defer conn.Close()
		msg, err := conn.Receive(context.Background())
		require.NoError(t, err)
		require.NoError(t, conn.Send(context.Background(), msg))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialClient(ctx, url)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("hello reconciliation")
	require.NoError(t, conn.Send(ctx, payload))
	echoed, err := conn.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, echoed)
}
