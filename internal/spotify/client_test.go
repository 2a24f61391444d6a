package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	userID   string
	method   string
	endpoint string
	params   url.Values
	body     any
}

type fakeExecutor struct {
	calls   []recordedCall
	payload json.RawMessage
	err     error
}

func (f *fakeExecutor) Execute(_ context.Context, userID, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	f.calls = append(f.calls, recordedCall{userID, method, endpoint, params, body})
	return f.payload, f.err
}

func TestCurrentUserProfile(t *testing.T) {
	exec := &fakeExecutor{payload: json.RawMessage(`{"id":"alice","display_name":"Alice","product":"premium"}`)}
	client := NewClient(exec, "alice")

	profile, err := client.CurrentUserProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.ID)
	assert.Equal(t, "premium", profile.Product)

	call := exec.calls[0]
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "/v1/me", call.endpoint)
	assert.Equal(t, "alice", call.userID)
}

func TestSearch(t *testing.T) {
	exec := &fakeExecutor{payload: json.RawMessage(`{}`)}
	client := NewClient(exec, "alice")

	_, err := client.Search(context.Background(), "daft punk", []string{"track", "artist"}, 5)
	require.NoError(t, err)

	call := exec.calls[0]
	assert.Equal(t, "/v1/search", call.endpoint)
	assert.Equal(t, "daft punk", call.params.Get("q"))
	assert.Equal(t, "track,artist", call.params.Get("type"))
	assert.Equal(t, "5", call.params.Get("limit"))
}

func TestStartPlayback(t *testing.T) {
	exec := &fakeExecutor{}
	client := NewClient(exec, "alice")

	err := client.StartPlayback(context.Background(), "device-1", []string{"spotify:track:4iV5W9uYEdYUVa79Axb7Rh"})
	require.NoError(t, err)

	call := exec.calls[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/v1/me/player/play", call.endpoint)
	assert.Equal(t, "device-1", call.params.Get("device_id"))
	assert.Equal(t, map[string]any{"uris": []string{"spotify:track:4iV5W9uYEdYUVa79Axb7Rh"}}, call.body)
}

func TestStartPlayback_NoBodyWithoutURIs(t *testing.T) {
	exec := &fakeExecutor{}
	client := NewClient(exec, "alice")

	require.NoError(t, client.StartPlayback(context.Background(), "", nil))
	call := exec.calls[0]
	assert.Nil(t, call.body)
	assert.Empty(t, call.params)
}
