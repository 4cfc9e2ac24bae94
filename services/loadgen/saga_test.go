package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenGid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"gid":"gid-123","dtm_result":"SUCCESS"}`))
	}))
	defer srv.Close()

	gid, err := genGid(srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "gid-123", gid)
}

func TestGenGid_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := genGid(url)

	assert.ErrorContains(t, err, "dtm server unavailable")
}

func TestNewDTMSeller_TrimsTrailingSlash(t *testing.T) {
	s := NewDTMSeller("http://dtm:36789/api/dtmsvr", "http://pos:8080/")

	assert.Equal(t, "http://pos:8080", s.posURL)
}
