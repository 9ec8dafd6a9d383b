// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/gorilla/websocket"
)

const (
	writeDeadline = 5 * time.Second
	// events buffered for a slow stream before the bus drops it
	streamBuffer = 64
)

// eventFilter selects the events a stream delivers. Empty fields match all.
type eventFilter struct {
	correlationID string
	operationID   string
}

func (f eventFilter) match(e event.Event) bool {
	if f.correlationID != "" && f.correlationID != e.CorrelationID {
		return false
	}
	if f.operationID != "" && f.operationID != e.OperationID {
		return false
	}
	return true
}

// eventsHandler streams lifecycle events as JSON text messages. The
// correlationId and operationId query parameters narrow the stream.
func (s *Service) eventsHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugf("events handler: upgrade: %v", err)
		s.logger.Error("events handler: upgrading")
		jsonhttp.BadRequest(w, "not a websocket connection")
		return
	}

	filter := eventFilter{
		correlationID: r.URL.Query().Get("correlationId"),
		operationID:   r.URL.Query().Get("operationId"),
	}

	s.wsWg.Add(1)
	go s.pumpEvents(conn, filter)
}

func (s *Service) pumpEvents(conn *websocket.Conn, filter eventFilter) {
	defer s.wsWg.Done()

	s.metrics.EventStreams.Inc()
	defer s.metrics.EventStreams.Dec()

	var (
		events = make(chan event.Event, streamBuffer)
		gone   = make(chan struct{})
		ticker = time.NewTicker(s.options.WsPingPeriod)
	)
	sub := s.dispatcher.Subscribe(events)
	defer func() {
		sub.Unsubscribe()
		ticker.Stop()
		_ = conn.Close()
	}()

	// the client is not expected to send anything, reading only detects
	// that it went away and handles control messages
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				s.logger.Debugf("events stream: client gone: %v", err)
				return
			}
		}
	}()

	for {
		select {
		case e := <-events:
			if !filter.match(e) {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debugf("events stream: set write deadline: %v", err)
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debugf("events stream: write event: %v", err)
				return
			}
		case err := <-sub.Err():
			s.logger.Debugf("events stream: subscription ended: %v", err)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed")
			if errors.Is(err, event.ErrSubscriberTooSlow) {
				msg = websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow")
			}
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debugf("events stream: close message: %v", err)
			}
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debugf("events stream: ping: %v", err)
				return
			}
		case <-gone:
			return
		case <-s.quit:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debugf("events stream: close message: %v", err)
			}
			return
		}
	}
}
