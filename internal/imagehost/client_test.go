package imagehost

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	var form map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		_, _ = w.Write([]byte(`{"secure_url":"https://cdn.example/ev.jpg"}`))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, CloudName: "demo", APIKey: "k", APISecret: "s"})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	got, err := c.Upload(context.Background(), []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/ev.jpg", got)

	assert.Equal(t, "k", form["api_key"])
	assert.Equal(t, "1700000000", form["timestamp"])
	assert.Equal(t, "face-verification", form["folder"])
	assert.Equal(t, sign("face-verification", "1700000000", "s"), form["signature"])
	require.True(t, strings.HasPrefix(form["file"], "data:image/jpeg;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(form["file"], "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, raw)
}

func TestUpload_Unsigned(t *testing.T) {
	var hasSig bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		_, hasSig = r.MultipartForm.Value["signature"]
		_, _ = w.Write([]byte(`{"secure_url":"https://cdn.example/x.jpg"}`))
	}))
	defer ts.Close()

	_, err := New(Config{BaseURL: ts.URL, CloudName: "demo"}).Upload(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.False(t, hasSig)
}

func TestUpload_Failures(t *testing.T) {
	_, err := New(Config{}).Upload(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key"}}`))
	}))
	defer ts.Close()
	_, err = New(Config{BaseURL: ts.URL, CloudName: "demo"}).Upload(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestSign(t *testing.T) {
	// sha1("folder=f&timestamp=1" + "secret")
	assert.Len(t, sign("f", "1", "secret"), 40)
	assert.NotEqual(t, sign("f", "1", "a"), sign("f", "1", "b"))
}
