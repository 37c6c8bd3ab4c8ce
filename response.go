// Package httpcache models HTTP responses for caching: status lines,
// immutable header multimaps and responses that own their payload.
package httpcache

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpcache/payload"
	"github.com/always-cache/httpcache/rfc9211"
)

// ErrNotMaterialized is returned when cloning a response whose payload is a one-shot stream.
var ErrNotMaterialized = errors.New("response payload is not materialized")

// Response is a status line with headers and an optional payload.
//
// The response exclusively owns its payload. The payload is released by
// Transform, Consume, Materialize or WithHeaders, and can be released only once.
type Response struct {
	line    StatusLine
	headers Headers

	mu       sync.Mutex
	payload  payload.Payload
	released bool
}

// NewResponse creates a response.
// If the status does not allow content, p is closed and the response has no payload.
func NewResponse(line StatusLine, headers Headers, p payload.Payload) *Response {
	if p != nil && !line.Status.IsBodyContentAllowed() {
		closePayload(p)
		p = nil
	}
	return &Response{line: line, headers: headers, payload: p}
}

func (r *Response) StatusLine() StatusLine { return r.line }

func (r *Response) Status() Status { return r.line.Status }

func (r *Response) Headers() Headers { return r.headers }

// HasPayload reports whether the response carries a payload that was not yet released.
func (r *Response) HasPayload() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload != nil
}

// take hands the payload over to the caller.
// ok is false if the payload was already released by an earlier call.
func (r *Response) take() (p payload.Payload, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, false
	}
	p = r.payload
	if p != nil {
		r.payload = nil
		r.released = true
	}
	return p, true
}

// Transform calls f with the payload of r and closes the payload afterwards,
// whether f returns normally, fails or panics.
//
// The boolean result is false if r has no payload, in which case f is not called.
// Transform fails with payload.ErrUnavailable if the payload was already released.
func Transform[T any](r *Response, f func(payload.Payload) (T, error)) (T, bool, error) {
	var zero T
	p, ok := r.take()
	if !ok {
		return zero, false, payload.ErrUnavailable
	}
	if p == nil {
		return zero, false, nil
	}
	defer closePayload(p)
	v, err := f(p)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// Bytes reads the whole payload of r. It releases the payload.
func (r *Response) Bytes() ([]byte, bool, error) {
	return Transform(r, payload.Bytes)
}

// Consume releases the payload without reading it. Close errors are logged, never returned.
func (r *Response) Consume() {
	p, _ := r.take()
	if p != nil {
		closePayload(p)
	}
}

// IsCached reports whether the response was served from a cache.
func (r *Response) IsCached() bool {
	return rfc9211.IsHit(r.headers.Values(rfc9211.FieldName))
}

// MarkCached returns a copy of r marked as a hit of the named cache.
// The payload moves to the returned response.
func (r *Response) MarkCached(cacheName string) *Response {
	status := rfc9211.CacheStatus{Cache: cacheName}
	status.Hit()
	return r.WithHeaders(r.headers.Add(rfc9211.FieldName, status.String()))
}

// WithHeaders returns a response with the same status and payload but the given headers.
// The payload moves to the returned response; r no longer owns it.
func (r *Response) WithHeaders(headers Headers) *Response {
	p, ok := r.take()
	res := &Response{line: r.line, headers: headers, payload: p}
	if !ok {
		res.released = true
	}
	return res
}

// Materialize returns a response with the same status and headers whose
// payload is held in memory. The payload of r is drained and released.
func (r *Response) Materialize() (*Response, error) {
	p, ok := r.take()
	if !ok {
		return nil, payload.ErrUnavailable
	}
	res := &Response{line: r.line, headers: r.headers}
	switch v := p.(type) {
	case nil:
	case *payload.ByteArrayPayload:
		if !v.Available() {
			return nil, payload.ErrUnavailable
		}
		res.payload = v.Clone()
		closePayload(v)
	default:
		defer closePayload(p)
		body, err := p.Body()
		if err != nil {
			return nil, err
		}
		eager, err := payload.ReadAll(body, p.MIMEType())
		if err != nil {
			return nil, err
		}
		res.payload = eager
	}
	return res, nil
}

// Clone returns an independent copy of a response whose payload is held in memory.
// It fails with ErrNotMaterialized for streamed payloads and with
// payload.ErrUnavailable if the payload was released.
func (r *Response) Clone() (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, payload.ErrUnavailable
	}
	res := &Response{line: r.line, headers: r.headers}
	switch v := r.payload.(type) {
	case nil:
	case *payload.ByteArrayPayload:
		if !v.Available() {
			return nil, payload.ErrUnavailable
		}
		res.payload = v.Clone()
	default:
		return nil, ErrNotMaterialized
	}
	return res, nil
}

func closePayload(p payload.Payload) {
	if err := p.Close(); err != nil {
		log.Warn().Err(err).Msg("Could not close payload")
	}
}
