// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import "context"

// engineQueueDepth bounds each engine's request channel. A full queue
// pushes back on the enqueuer — for the ingress adapter that means the
// /sync loop slows down, which is the intended behavior for mutations.
// Droppable work (list and rating queries) goes through the separate
// responder queue instead, so it never occupies these slots.
const engineQueueDepth = 64

// result carries a reply value and its error through a reply channel
// as one message.
type result[T any] struct {
	value T
	err   error
}

// enqueue submits a request to an engine queue, giving up when ctx is
// done. Engines run until their service context is cancelled, so a
// blocked enqueue means the loop is saturated (backpressure) or the
// service is shutting down.
func enqueue[R any](ctx context.Context, queue chan<- R, request R) error {
	select {
	case queue <- request:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await reads the reply to an enqueued request. Reply channels are
// buffered, so the engine loop never blocks sending the answer even
// if the caller has already given up.
func await[T any](ctx context.Context, reply <-chan T) (T, error) {
	select {
	case value := <-reply:
		return value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// call does enqueue and await in one step for requests whose reply is
// a result envelope.
func call[R any, T any](ctx context.Context, queue chan<- R, request R, reply <-chan result[T]) (T, error) {
	if err := enqueue(ctx, queue, request); err != nil {
		var zero T
		return zero, err
	}
	envelope, err := await(ctx, reply)
	if err != nil {
		var zero T
		return zero, err
	}
	return envelope.value, envelope.err
}
