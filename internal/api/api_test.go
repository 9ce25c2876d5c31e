// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/docproc"
	"github.com/kraklabs/forge/pkg/orchestrator"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	orch := orchestrator.New(nil, nil, slog.Default(), orchestrator.DefaultConfig())
	srv := NewServer(orch, slog.Default())
	return httptest.NewServer(srv.Handler())
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleMetrics_ServesPrometheusFormat(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session_id=test-session"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocket_ConnectEmitsConnectedEvent(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var evt orchestrator.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, orchestrator.EventConnected, evt.Type)
	assert.Equal(t, "test-session", evt.SessionID)
}

func TestWebSocket_UnrecognizedMessageTypeEmitsError(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var connected orchestrator.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "not_a_real_type"}))

	var evt orchestrator.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, orchestrator.EventError, evt.Type)
	assert.Contains(t, evt.Data["message"], "unrecognized message type")
}

func TestWebSocket_ChatMessageWithoutRepoEmitsWaiting(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	var connected orchestrator.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":    "chat_message",
		"message": "add a retry to the payment handler",
	}))

	found := false
	for i := 0; i < 5 && !found; i++ {
		var evt orchestrator.Event
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		if evt.Type == orchestrator.EventStatus && evt.Stage == "waiting" {
			found = true
		}
	}
	assert.True(t, found, "expected a waiting status event")
}

func TestHandleDocProc_EchoesUploadContent(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello from an upload"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/docproc", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result docproc.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "hello from an upload", result.Content)
	assert.Equal(t, "notes.txt", result.Metadata["filename"])
}

func TestHandleDocProc_MissingFileReturnsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/docproc", "application/x-www-form-urlencoded", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
