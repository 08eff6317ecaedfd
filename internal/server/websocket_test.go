package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestWebSocket(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(serverMux(t, s))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ocr/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWSResponse(t *testing.T, conn *websocket.Conn) wsResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp wsResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestWebSocketTextRequest(t *testing.T) {
	fake := &fakeCardPipeline{rec: sampleRecord("ws1")}
	s := newTestServer(t, fake)
	conn := dialTestWebSocket(t, s)

	req := wsRequest{
		Image:    base64.StdEncoding.EncodeToString([]byte("image-bytes")),
		Filename: "card.jpg",
		CropConf: 0.7,
		OCRConf:  0.5,
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	progress := readWSResponse(t, conn)
	assert.Equal(t, "processing", progress.Status)

	final := readWSResponse(t, conn)
	assert.Equal(t, "completed", final.Status)
	assert.InDelta(t, 1.0, final.Progress, 1e-9)

	data, err := json.Marshal(final.Data)
	require.NoError(t, err)
	var rec RecordData
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "ws1", rec.RecordID)
	assert.Equal(t, "card.jpg", rec.InputFilename)

	assert.InDelta(t, 0.7, fake.lastOpts.CropConfidence, 1e-9)
	assert.InDelta(t, 0.5, fake.lastOpts.RecognitionConfidence, 1e-9)

	// WebSocket runs land in history too.
	count, err := s.store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWebSocketBinaryRequest(t *testing.T) {
	fake := &fakeCardPipeline{rec: sampleRecord("ws2")}
	s := newTestServer(t, fake)
	conn := dialTestWebSocket(t, s)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("image-bytes")))

	progress := readWSResponse(t, conn)
	assert.Equal(t, "processing", progress.Status)

	final := readWSResponse(t, conn)
	assert.Equal(t, "completed", final.Status)
	assert.Equal(t, 1, fake.calls)
}

func TestWebSocketInvalidBase64(t *testing.T) {
	s := newTestServer(t, &fakeCardPipeline{rec: sampleRecord("ws3")})
	conn := dialTestWebSocket(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"image":"%%%"}`)))

	resp := readWSResponse(t, conn)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "base64")
}

func TestWebSocketPipelineError(t *testing.T) {
	s := newTestServer(t, &fakeCardPipeline{err: assert.AnError})
	conn := dialTestWebSocket(t, s)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("image-bytes")))

	progress := readWSResponse(t, conn)
	assert.Equal(t, "processing", progress.Status)

	resp := readWSResponse(t, conn)
	assert.Equal(t, "error", resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestWebSocketDisabled(t *testing.T) {
	s := newTestServer(t, &fakeCardPipeline{rec: sampleRecord("ws4")})
	s.enableWebSocket = false
	ts := httptest.NewServer(serverMux(t, s))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ocr/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
		assert.NotEqual(t, 101, resp.StatusCode)
	}
}
