package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		AccessToken:   "token",
		PhoneNumberID: "PNID",
		APIBase:       srv.URL,
		APIVersion:    "v21.0",
		HTTPClient:    srv.Client(),
		Logger:        testLogger(),
	})
}

func TestSendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v21.0/PNID/messages", r.URL.Path)
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	err := newTestClient(srv).SendText(context.Background(), "393331112222", "ticket opened")
	require.NoError(t, err)
	require.Equal(t, "text", got["type"])
	require.Equal(t, "393331112222", got["to"])
	require.Equal(t, "ticket opened", got["text"].(map[string]any)["body"])
}

func TestSendImage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	err := newTestClient(srv).SendImage(context.Background(), "39", "https://cdn/a.jpg", "room 12")
	require.NoError(t, err)
	image := got["image"].(map[string]any)
	require.Equal(t, "https://cdn/a.jpg", image["link"])
	require.Equal(t, "room 12", image["caption"])
}

func TestSend_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid recipient"}}`))
	}))
	defer srv.Close()

	err := newTestClient(srv).SendText(context.Background(), "x", "hi")
	require.ErrorContains(t, err, "invalid recipient")
}

func TestFetchMedia(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v21.0/media-1":
			json.NewEncoder(w).Encode(map[string]any{
				"url":       srv.URL + "/download/media-1",
				"mime_type": "audio/ogg; codecs=opus",
				"sha256":    "abc",
			})
		case "/download/media-1":
			w.Write([]byte("OggS-data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	media, err := newTestClient(srv).FetchMedia(context.Background(), "media-1")
	require.NoError(t, err)
	require.Equal(t, "OggS-data", string(media.Data))
	require.Equal(t, "audio/ogg; codecs=opus", media.MimeType)
	require.Equal(t, "abc", media.SHA256)
}

func TestFetchMedia_UnknownID(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(srv).FetchMedia(context.Background(), "nope")
	require.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	sig := "sha256=" + Sign(body, "secret")

	require.True(t, VerifySignature(body, sig, "secret"))
	require.False(t, VerifySignature(body, sig, "other"))
	require.False(t, VerifySignature(body, Sign(body, "secret"), "secret"), "prefix is required")
	require.False(t, VerifySignature([]byte("tampered"), sig, "secret"))
}
