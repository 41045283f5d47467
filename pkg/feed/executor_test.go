package feed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	importerrors "github.com/Ramsey-B/heather/pkg/errors"
	"github.com/Ramsey-B/heather/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestExecutor(t *testing.T, handler http.HandlerFunc) *HTTPExecutor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := httpclient.NewClient(httpclient.DefaultConfig(), testLogger())
	return NewHTTPExecutor(client, server.URL, "heather-test/1.0", testLogger())
}

func TestExecute_ReturnsBody(t *testing.T) {
	var gotBody string
	var gotHeaders http.Header
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeaders = r.Header
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"data":{"housings":{"housingRentalObjects":[]}}}`))
	})

	body, err := exec.Execute(context.Background(), `{"query":"{ x }"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"housings":{"housingRentalObjects":[]}}}`, body)
	assert.Equal(t, `{"query":"{ x }"}`, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "application/json", gotHeaders.Get("Accept"))
	assert.Equal(t, "heather-test/1.0", gotHeaders.Get("User-Agent"))
}

func TestExecute_BlankQuery(t *testing.T) {
	called := false
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := exec.Execute(context.Background(), "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, importerrors.ErrInvalidArgument)
	assert.False(t, called)
}

func TestExecute_ServerErrorIsTransport(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := exec.Execute(context.Background(), `{"query":"{ x }"}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, importerrors.ErrTransport)
	ie, ok := importerrors.AsImportError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, ie.StatusCode)
}

func TestExecute_UnreachableIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	exec := NewHTTPExecutor(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), url, "ua", testLogger())
	_, err := exec.Execute(context.Background(), `{"query":"{ x }"}`)
	assert.ErrorIs(t, err, importerrors.ErrTransport)
}

func TestExecute_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "blank body", body: "  \n "},
		{name: "graphql errors", body: `{"errors":[{"message":"boom"}],"data":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := exec.Execute(context.Background(), `{"query":"{ x }"}`)
			require.Error(t, err)
			assert.ErrorIs(t, err, importerrors.ErrUpstream)
		})
	}
}

func TestExecute_ErrorsWordInsideDataIsNotAnError(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"x":"errors"},"errors":[]}`))
	})

	body, err := exec.Execute(context.Background(), `{"query":"{ x }"}`)
	require.NoError(t, err)
	assert.Contains(t, body, `"errors"`)
}

func TestQueries_RenderBodies(t *testing.T) {
	catalog, err := CatalogQuery().Body()
	require.NoError(t, err)
	assert.Contains(t, catalog, `"operationName":"GetHousingItems"`)
	assert.Contains(t, catalog, `"neq":"Parkering"`)
	assert.Contains(t, catalog, "sanity_allEnhet")

	availability, err := AvailabilityQuery().Body()
	require.NoError(t, err)
	assert.Contains(t, availability, `"operationName":"GetHousingIds"`)
	assert.Contains(t, availability, `"showUnavailable":false`)
	assert.Contains(t, availability, "availableFrom")
}
