// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/live_stabilizer/internal/gcsv"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/logging"
)

type lockedSink struct {
	mu      sync.Mutex
	samples []imu.Sample
}

func (s *lockedSink) PushSample(v imu.Sample) error {
	s.mu.Lock()
	s.samples = append(s.samples, v)
	s.mu.Unlock()
	return nil
}

func (s *lockedSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func mockGCSV(t *testing.T, n int) (string, []imu.Sample) {
	t.Helper()
	var buf bytes.Buffer
	got, err := ProduceGCSV(context.Background(), &buf, imu.NewMockSource(100, 42), ProducerHeader(100), 0, n)
	require.NoError(t, err)
	require.Equal(t, n, got)

	src := imu.NewMockSource(100, 42)
	want := make([]imu.Sample, n)
	for i := range want {
		want[i], _ = src.Next()
	}
	return buf.String(), want
}

func TestProduceGCSV_StreamRoundTrip(t *testing.T) {
	t.Parallel()

	text, want := mockGCSV(t, 25)

	var sink lockedSink
	var headers []gcsv.Header
	n, err := StreamGCSV(context.Background(), strings.NewReader(text), &sink, func(_ string, h gcsv.Header) {
		headers = append(headers, h)
	})
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	require.Len(t, headers, 1)
	assert.Equal(t, "live_stabilizer_producer", headers[0].ID)

	require.Len(t, sink.samples, 25)
	for i := range want {
		assert.Equal(t, want[i].SensorTimeUS, sink.samples[i].SensorTimeUS)
		assert.InDeltaSlice(t, want[i].Gyro[:], sink.samples[i].Gyro[:], 1e-12)
	}
}

func TestStreamGCSV_CancelledContext(t *testing.T) {
	t.Parallel()

	text, _ := mockGCSV(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sink lockedSink
	n, err := StreamGCSV(ctx, strings.NewReader(text), &sink, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLineServer_MultipleProducers(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var sink lockedSink
	var headerMu sync.Mutex
	var headerText string
	srv := &LineServer{
		Sink: &sink,
		OnHeader: func(text string, _ gcsv.Header) {
			headerMu.Lock()
			headerText = text
			headerMu.Unlock()
		},
		Log: logging.Discard(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	text, _ := mockGCSV(t, 40)
	for range 2 {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write([]byte(text))
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	require.Eventually(t, func() bool { return sink.Len() == 80 }, 2*time.Second, 10*time.Millisecond)
	headerMu.Lock()
	assert.True(t, strings.HasPrefix(headerText, gcsv.Magic))
	headerMu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestLineServer_ListenError(t *testing.T) {
	t.Parallel()

	srv := &LineServer{Addr: "256.0.0.1:0", Sink: &lockedSink{}, Log: logging.Discard()}
	assert.Error(t, srv.ListenAndServe(context.Background()))
}

func TestWebsocketSource(t *testing.T) {
	t.Parallel()

	text, want := mockGCSV(t, 30)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// one line per message, so the header spans several messages
		for _, l := range lines {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(l)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		// wait for the client to hang up
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		conn.ReadMessage()
	}))
	defer srv.Close()

	var sink lockedSink
	var headers int
	src := &WebsocketSource{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Sink:     &sink,
		OnHeader: func(string, gcsv.Header) { headers++ },
		Log:      logging.Discard(),
	}
	require.NoError(t, src.Run(context.Background()))
	assert.Equal(t, 1, headers)
	require.Equal(t, len(want), sink.Len())
	assert.Equal(t, want[29].SensorTimeUS, sink.samples[29].SensorTimeUS)
}

func TestWebsocketSource_DialError(t *testing.T) {
	t.Parallel()

	src := &WebsocketSource{URL: "ws://127.0.0.1:1/none", Sink: &lockedSink{}, Log: logging.Discard()}
	assert.Error(t, src.Run(context.Background()))
}

func TestSerialSource_OpenError(t *testing.T) {
	t.Parallel()

	src := &SerialSource{Port: "/dev/does-not-exist-stabilizer", Baud: 115200, Sink: &lockedSink{}, Log: logging.Discard()}
	assert.Error(t, src.Run(context.Background()))
}
