// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/live_stabilizer/internal/gcsv"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

// SampleSink accepts decoded samples. *pipeline.Runner satisfies it.
type SampleSink interface {
	PushSample(imu.Sample) error
}

// StreamGCSV decodes GCSV text from r into sink until EOF, a read error or
// ctx cancellation. It returns the number of samples forwarded.
func StreamGCSV(ctx context.Context, r io.Reader, sink SampleSink, onHeader gcsv.HeaderFunc) (int, error) {
	rd := gcsv.NewReader(r, onHeader)
	n := 0
	for {
		if ctx.Err() != nil {
			return n, nil
		}
		s, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := sink.PushSample(s); err != nil {
			return n, err
		}
		n++
	}
}

// LineServer accepts TCP connections carrying GCSV text, one producer per
// connection.
type LineServer struct {
	Addr     string
	Sink     SampleSink
	OnHeader gcsv.HeaderFunc
	Log      *slog.Logger
}

// ListenAndServe listens on s.Addr and serves until ctx is cancelled.
func (s *LineServer) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. ln is closed on
// return.
func (s *LineServer) Serve(ctx context.Context, ln net.Listener) error {
	log := s.Log.With("component", "line_server")
	log.Info("listening for gcsv producers", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn, log)
		}()
	}
}

func (s *LineServer) handle(ctx context.Context, conn net.Conn, log *slog.Logger) {
	remote := conn.RemoteAddr().String()
	log.Info("producer connected", "remote", remote)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	n, err := StreamGCSV(ctx, conn, s.Sink, s.OnHeader)
	if err != nil && ctx.Err() == nil {
		log.Warn("producer stream ended with error", "remote", remote, "samples", n, "err", err)
		return
	}
	log.Info("producer disconnected", "remote", remote, "samples", n)
}

// SerialSource reads GCSV text from a serial port.
type SerialSource struct {
	Port     string
	Baud     int
	Sink     SampleSink
	OnHeader gcsv.HeaderFunc
	Log      *slog.Logger
}

// Run opens the port and streams until EOF, an error or ctx cancellation.
func (s *SerialSource) Run(ctx context.Context) error {
	opts := serial.OpenOptions{
		PortName:              s.Port,
		BaudRate:              uint(s.Baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return fmt.Errorf("open serial %s: %w", s.Port, err)
	}
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()
	defer port.Close()

	log := s.Log.With("component", "serial_source")
	log.Info("serial port opened", "port", s.Port, "baud", s.Baud)

	n, err := StreamGCSV(ctx, port, s.Sink, s.OnHeader)
	if ctx.Err() != nil {
		return nil
	}
	log.Info("serial stream ended", "samples", n)
	return err
}

// WebsocketSource dials a websocket endpoint whose text messages carry GCSV
// lines. Messages are concatenated into one stream, so a header may span
// several messages.
type WebsocketSource struct {
	URL      string
	Sink     SampleSink
	OnHeader gcsv.HeaderFunc
	Log      *slog.Logger
}

// Run dials s.URL and streams until the peer closes or ctx is cancelled.
func (s *WebsocketSource) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	log := s.Log.With("component", "websocket_source")
	log.Info("connected", "url", s.URL)

	pr, pw := io.Pipe()
	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			if len(data) == 0 || data[len(data)-1] != '\n' {
				data = append(data, '\n')
			}
			if _, err := pw.Write(data); err != nil {
				return
			}
		}
	}()

	n, err := StreamGCSV(ctx, pr, s.Sink, s.OnHeader)
	pr.Close()
	var ce *websocket.CloseError
	if ctx.Err() != nil || (errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway)) {
		log.Info("websocket stream ended", "samples", n)
		return nil
	}
	return err
}

// SubscribeSamples subscribes to topic and forwards every JSON-encoded
// imu.Sample to sink. Undecodable payloads are logged and dropped.
func SubscribeSamples(client mqtt.Client, topic string, sink SampleSink, log *slog.Logger) error {
	log = log.With("component", "mqtt_source", "topic", topic)
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s imu.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Warn("sample unmarshal error", "err", err)
			return
		}
		if err := sink.PushSample(s); err != nil {
			log.Debug("sample not queued", "err", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Info("subscribed")
	return nil
}
