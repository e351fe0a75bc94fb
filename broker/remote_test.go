package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/ragmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_Send(t *testing.T) {
	var received core.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	transport := NewHTTPTransport()
	msg := core.NewMessage("coordinator", "remote", core.QueryRequestPayload{Query: "q", K: 2})
	msg.WorkflowID = "wf-7"

	require.NoError(t, transport.Send(context.Background(), srv.URL, msg))
	assert.Equal(t, msg.ID, received.ID)
	assert.Equal(t, "wf-7", received.WorkflowID)
	assert.Equal(t, core.MessageTypeQueryRequest, received.Type)
}

func TestHTTPTransport_SendNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	transport := NewHTTPTransport()
	err := transport.Send(context.Background(), srv.URL, core.NewMessage("a", "b", core.HealthCheckPayload{}))
	assert.ErrorContains(t, err, "503")
}

func TestHTTPTransport_SendUnreachable(t *testing.T) {
	transport := NewHTTPTransport()
	err := transport.Send(context.Background(), "http://127.0.0.1:1", core.NewMessage("a", "b", core.HealthCheckPayload{}))
	assert.Error(t, err)
}
