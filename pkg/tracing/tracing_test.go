// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracing_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
	"github.com/uber/jaeger-client-go"
)

func TestSpanFromCarrier(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "submit-transaction", nil)
	defer span.Finish()

	carrier, err := tracer.InjectCarrier(ctx)
	if err != nil {
		t.Fatal(err)
	}

	ctx, err = tracer.WithContextFromCarrier(context.Background(), carrier)
	if err != nil {
		t.Fatal(err)
	}

	gotSpanContext := tracing.FromContext(ctx)
	if fmt.Sprint(gotSpanContext) == "" {
		t.Fatal("got empty span context")
	}

	if fmt.Sprint(gotSpanContext) != fmt.Sprint(span.Context()) {
		t.Errorf("got span context %+v, want %+v", gotSpanContext, span.Context())
	}
}

func TestInjectCarrier_noContext(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	_, err := tracer.InjectCarrier(context.Background())
	if !errors.Is(err, tracing.ErrContextNotFound) {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}

	if _, err := tracer.FromCarrier(nil); !errors.Is(err, tracing.ErrContextNotFound) {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}
}

func TestSpanWithContextFromHTTPHeaders(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	headers := make(http.Header)
	if err := tracer.AddContextHTTPHeader(ctx, headers); err != nil {
		t.Fatal(err)
	}

	ctx, err := tracer.WithContextFromHTTPHeaders(context.Background(), headers)
	if err != nil {
		t.Fatal(err)
	}

	gotSpanContext := tracing.FromContext(ctx)
	if fmt.Sprint(gotSpanContext) != fmt.Sprint(span.Context()) {
		t.Errorf("got span context %+v, want %+v", gotSpanContext, span.Context())
	}
}

func TestStartSpanFromContext_logger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, logger, _ := tracer.StartSpanFromContext(context.Background(), "some-operation", logging.New(io.Discard, 0))
	defer span.Finish()

	wantTraceID := span.Context().(jaeger.SpanContext).TraceID()

	v, ok := logger.Data[tracing.LogField]
	if !ok {
		t.Fatalf("log field %q not found", tracing.LogField)
	}

	gotTraceID, ok := v.(string)
	if !ok {
		t.Fatalf("log field %q is not string", tracing.LogField)
	}

	if gotTraceID != wantTraceID.String() {
		t.Errorf("got trace id %q, want %q", gotTraceID, wantTraceID.String())
	}
}

func TestNewLoggerWithTraceID_nilLogger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	if logger := tracing.NewLoggerWithTraceID(ctx, nil); logger != nil {
		t.Error("logger is not nil")
	}
}

func newTracer(t *testing.T) (*tracing.Tracer, io.Closer) {
	t.Helper()

	tracer, closer, err := tracing.NewTracer(&tracing.Options{
		Enabled:     true,
		ServiceName: "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	return tracer, closer
}
