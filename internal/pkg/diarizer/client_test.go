package diarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	var got detectRequest
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/detect", req.URL.String())
		require.Nil(t, json.NewDecoder(req.Body).Decode(&got))
		_, _ = rw.Write([]byte(`{"turns":[{"start":0,"end":4.2,"speaker":"A"},{"start":4.2,"end":9,"speaker":"B"}]}`))
	}))
	defer server.Close()
	c := TurnClient{url: server.URL, httpclient: http.DefaultClient}

	turns, err := c.Detect(context.Background(), []string{"a.wav", "b.wav"})
	require.Nil(t, err)
	assert.Equal(t, []string{"a.wav", "b.wav"}, got.Files)
	require.Equal(t, 2, len(turns))
	assert.Equal(t, "A", turns[0].Speaker)
	assert.InDelta(t, 4.2, turns[0].End, 0.0001)
	assert.Equal(t, "B", turns[1].Speaker)
}

func TestDetect_WrongCode_Fails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(400)
	}))
	defer server.Close()
	c := TurnClient{url: server.URL, httpclient: http.DefaultClient}
	_, err := c.Detect(context.Background(), []string{"a.wav"})
	assert.NotNil(t, err)
}

func TestEmbed(t *testing.T) {
	var got embedRequest
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/embed", req.URL.String())
		require.Nil(t, json.NewDecoder(req.Body).Decode(&got))
		_, _ = rw.Write([]byte(`{"vector":[0.1,0.2,0.3]}`))
	}))
	defer server.Close()
	c := EmbedClient{url: server.URL, httpclient: http.DefaultClient}

	v, err := c.Embed(context.Background(), "a.wav", 1.5, 3.5)
	require.Nil(t, err)
	assert.Equal(t, "a.wav", got.File)
	assert.InDelta(t, 1.5, got.Start, 0.0001)
	assert.InDelta(t, 3.5, got.End, 0.0001)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestEmbed_Empty_Fails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		_, _ = rw.Write([]byte(`{"vector":[]}`))
	}))
	defer server.Close()
	c := EmbedClient{url: server.URL, httpclient: http.DefaultClient}
	_, err := c.Embed(context.Background(), "a.wav", 0, 1)
	assert.NotNil(t, err)
}

func TestLoadUnload(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		paths = append(paths, req.URL.String())
	}))
	defer server.Close()
	tc := TurnClient{url: server.URL, httpclient: http.DefaultClient}
	ec := EmbedClient{url: server.URL, httpclient: http.DefaultClient}

	assert.Nil(t, tc.Load(context.Background()))
	assert.Nil(t, tc.Unload(context.Background()))
	assert.Nil(t, ec.Load(context.Background()))
	assert.Nil(t, ec.Unload(context.Background()))
	assert.Equal(t, []string{"/load", "/unload", "/load", "/unload"}, paths)
}

func TestNewClients_NoURL_Fails(t *testing.T) {
	_, err := NewTurnClient()
	assert.NotNil(t, err)
	_, err = NewEmbedClient()
	assert.NotNil(t, err)
}
