package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_PlainHTTPIsSkipped(t *testing.T) {
	assert.Nil(t, Check(context.Background(), "http://portal.example.com/octo", false))
	assert.Nil(t, Check(context.Background(), "::not a url", false))
}

func TestCheck_ValidCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	cs := Check(context.Background(), srv.URL+"/octo", true)
	require.NotNil(t, cs)
	assert.Equal(t, "valid", cs.Status)
	assert.Equal(t, srv.URL, cs.Endpoint)
	assert.NotEmpty(t, cs.NotAfter)
	assert.Positive(t, cs.DaysLeft)
}

func TestCheck_UntrustedCertificateIsUnreachable(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	cs := Check(context.Background(), srv.URL, false)
	require.NotNil(t, cs)
	assert.Equal(t, "unreachable", cs.Status)
}

func TestCheck_NothingListening(t *testing.T) {
	cs := Check(context.Background(), "https://127.0.0.1:1", true)
	require.NotNil(t, cs)
	assert.Equal(t, "unreachable", cs.Status)
}
