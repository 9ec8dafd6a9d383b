// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/ethersphere/ledgerclient/pkg/logging/httpaccess"
	"github.com/ethersphere/ledgerclient/pkg/transaction/wrapped"
	"github.com/gorilla/mux"
)

const errUnknownOperation = "unknown operation"

// operationHandler reports the progress of an operation. With wait=true it
// responds only once every request of the operation finished.
func (s *Service) operationHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	httpaccess.SetOperationID(r, id)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		state, err := s.dispatcher.AwaitOperation(r.Context(), id)
		if err != nil {
			s.logger.Debugf("await operation %s: %v", id, err)
			jsonhttp.GatewayTimeout(w, err.Error())
			return
		}
		jsonhttp.OK(w, state)
		return
	}

	state, ok := s.dispatcher.OperationState(id)
	if !ok {
		jsonhttp.NotFound(w, errUnknownOperation)
		return
	}
	jsonhttp.OK(w, state)
}

func (s *Service) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Reconnect(r.Context()); err != nil {
		s.logger.Debugf("reconnect: %v", err)
		if errors.Is(err, wrapped.ErrUnreachable) {
			jsonhttp.ServiceUnavailable(w, err.Error())
			return
		}
		jsonhttp.BadGateway(w, err.Error())
		return
	}
	jsonhttp.OK(w, statusMessageResponse{Message: "reconnected"})
}
