// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strconv"

	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/ethersphere/ledgerclient/pkg/logging/httpaccess"
	"github.com/google/uuid"
)

type callResultResponse struct {
	CorrelationID string        `json:"correlationId"`
	Result        []interface{} `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// callSubmitHandler enqueues a read call. With wait=true it responds with
// the call result instead of the correlation id.
func (s *Service) callSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req dispatcher.CallRequest
	if !s.readJSONBody(w, r, &req) {
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		id, err := s.dispatcher.SubmitCall(r.Context(), req)
		if err != nil {
			s.logger.Debugf("submit call %s: %v", req.MethodName, err)
			s.respondSubmitError(w, err)
			return
		}
		httpaccess.SetCorrelationID(w, r, id)
		jsonhttp.Accepted(w, submitResponse{CorrelationID: id})
		return
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	httpaccess.SetCorrelationID(w, r, req.CorrelationID)

	// subscribe before submitting so the result can not be missed
	events := make(chan event.Event, 16)
	sub := s.dispatcher.Subscribe(events)
	defer sub.Unsubscribe()

	if _, err := s.dispatcher.SubmitCall(r.Context(), req); err != nil {
		s.logger.Debugf("submit call %s: %v", req.MethodName, err)
		s.respondSubmitError(w, err)
		return
	}

	for {
		select {
		case e := <-events:
			if e.Kind != event.CallResult || e.CorrelationID != req.CorrelationID {
				continue
			}
			resp := callResultResponse{
				CorrelationID: e.CorrelationID,
				Result:        e.Result,
			}
			if e.Err != nil {
				resp.Error = e.Err.Error()
			}
			jsonhttp.OK(w, resp)
			return
		case err := <-sub.Err():
			s.logger.Debugf("wait for call %s: subscription ended: %v", req.CorrelationID, err)
			jsonhttp.ServiceUnavailable(w, "event stream ended")
			return
		case <-r.Context().Done():
			s.logger.Debugf("wait for call %s: %v", req.CorrelationID, r.Context().Err())
			return
		case <-s.quit:
			jsonhttp.ServiceUnavailable(w, "shutting down")
			return
		}
	}
}
