package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/entity"
)

type handlerFunc func(ctx context.Context, req entity.Request) entity.Response

func (f handlerFunc) Handle(ctx context.Context, req entity.Request) entity.Response { return f(ctx, req) }

func ok(req entity.Request, data any) entity.Response {
	body, _ := json.Marshal(data)
	return entity.Response{Success: true, Type: req.Type, RequestID: req.RequestID, Data: body}
}

func TestSendPing(t *testing.T) {
	var seen []string
	m := NewMessenger(NewLocalChannel(handlerFunc(func(_ context.Context, req entity.Request) entity.Response {
		seen = append(seen, req.RequestID)
		assert.Equal(t, entity.MessagePing, req.Type)
		return ok(req, entity.PingResult{Pong: true})
	})), nil)

	require.NoError(t, m.SendPing(context.Background()))
	require.NoError(t, m.SendPing(context.Background()))
	require.Len(t, seen, 2)
	assert.NotEmpty(t, seen[0])
	assert.NotEqual(t, seen[0], seen[1])
}

func TestSendPingWithoutPong(t *testing.T) {
	m := NewMessenger(NewLocalChannel(handlerFunc(func(_ context.Context, req entity.Request) entity.Response {
		return ok(req, map[string]bool{"pong": false})
	})), nil)

	assert.ErrorIs(t, m.SendPing(context.Background()), ErrUnexpectedResponse)
}

func TestRequestImageAnalysis(t *testing.T) {
	m := NewMessenger(NewLocalChannel(handlerFunc(func(_ context.Context, req entity.Request) entity.Response {
		var in entity.AnalyzeRequest
		require.NoError(t, json.Unmarshal(req.Payload, &in))
		return ok(req, entity.AnalyzeResult{AltText: "alt for " + in.ImageURL, Source: entity.SourceAPI, LatencyMs: 7})
	})), nil)

	res, err := m.RequestImageAnalysis(context.Background(), entity.AnalyzeRequest{ImageURL: "https://img.example/a.jpg", PageURL: "https://shop.example/"})
	require.NoError(t, err)
	assert.Equal(t, &entity.AnalyzeResult{AltText: "alt for https://img.example/a.jpg", Source: entity.SourceAPI, LatencyMs: 7}, res)
}

func TestRemoteErrorSurfaces(t *testing.T) {
	m := NewMessenger(NewLocalChannel(handlerFunc(func(_ context.Context, req entity.Request) entity.Response {
		return entity.Response{Type: req.Type, RequestID: req.RequestID, Error: &entity.ResponseError{
			Code: entity.CodeTimeout, Message: "slow", Retryable: true,
		}}
	})), nil)

	_, err := m.RequestImageAnalysis(context.Background(), entity.AnalyzeRequest{})
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, entity.CodeTimeout, re.Code)
	assert.True(t, re.Retryable)
	assert.Equal(t, "[TIMEOUT] slow", re.Error())
}

func TestMismatchedResponses(t *testing.T) {
	wrongID := NewMessenger(NewLocalChannel(handlerFunc(func(_ context.Context, req entity.Request) entity.Response {
		req.RequestID = "other"
		return ok(req, entity.AnalyzeResult{})
	})), nil)
	_, err := wrongID.RequestImageAnalysis(context.Background(), entity.AnalyzeRequest{})
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	wrongType := NewMessenger(NewLocalChannel(handlerFunc(func(_ context.Context, req entity.Request) entity.Response {
		req.Type = entity.MessagePing
		return ok(req, entity.AnalyzeResult{})
	})), nil)
	_, err = wrongType.RequestImageAnalysis(context.Background(), entity.AnalyzeRequest{})
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestLocalChannelHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalChannel(handlerFunc(func(context.Context, entity.Request) entity.Response {
		t.Fatal("handler must not run")
		return entity.Response{}
	})).Send(ctx, entity.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RelayPath, r.URL.Path)
		var req entity.Request
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ok(req, entity.PingResult{Pong: true}))
	}))
	defer srv.Close()

	m := NewMessenger(NewHTTPChannel(srv.URL, srv.Client()), nil)
	assert.NoError(t, m.SendPing(context.Background()))
}

func TestHTTPChannelBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	_, err := NewHTTPChannel(srv.URL, nil).Send(context.Background(), entity.Request{Type: entity.MessagePing, RequestID: "1"})
	assert.ErrorContains(t, err, "http 502")
}
