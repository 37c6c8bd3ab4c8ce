// Package serializer converts stored responses to and from bytes.
//
// A record is the HTTP/1.1 representation of the request fields the response
// was selected with, a delimiter, a block of cache metadata fields ended by an
// empty line, and the HTTP/1.1 representation of the response. The response
// fields are stored exactly as the origin sent them.
package serializer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/payload"
)

const (
	storedAtHeaderName    = "Acache-Stored-At"
	payloadTypeHeaderName = "Acache-Payload-Type"
)

// ErrMalformed is returned when a record cannot be read back.
var ErrMalformed = errors.New("malformed stored response")

type StoredResponse struct {
	Response *httpcache.Response
	// The value of the clock when the response was stored.
	StoredAt time.Time
	// The request fields the response was selected with.
	RequestHeaders httpcache.Headers
}

var delim = []byte("\r\n----\r\n")

// StoredResponseToBytes serializes sRes. The response must hold its payload
// in memory; it is left intact.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	buf := &bytes.Buffer{}

	writeFields(buf, sRes.RequestHeaders)
	buf.Write(delim)

	res := sRes.Response
	clone, err := res.Clone()
	if err != nil {
		return nil, err
	}
	var body []byte
	var mimeType payload.MIMEType
	hasPayload := clone.HasPayload()
	if hasPayload {
		_, _, err = httpcache.Transform(clone, func(p payload.Payload) (struct{}, error) {
			mimeType = p.MIMEType()
			body, err = payload.Bytes(p)
			return struct{}{}, err
		})
		if err != nil {
			return nil, err
		}
	}

	meta := httpcache.NewHeaders(httpcache.Header{
		Name:  storedAtHeaderName,
		Value: strconv.FormatInt(sRes.StoredAt.UnixNano(), 10),
	})
	if hasPayload {
		meta = meta.Add(payloadTypeHeaderName, mimeType.String())
	}
	writeFields(buf, meta)
	buf.WriteString("\r\n")

	buf.WriteString(res.StatusLine().String())
	buf.WriteString("\r\n")
	writeFields(buf, res.Headers())
	buf.WriteString("\r\n")
	buf.Write(body)

	return buf.Bytes(), nil
}

// BytesToStoredResponse reads a record written by StoredResponseToBytes.
// The returned response holds its payload in memory.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	reqBytes, resBytes, ok := bytes.Cut(b, delim)
	if !ok {
		return sRes, fmt.Errorf("%w: missing delimiter", ErrMalformed)
	}

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(reqBytes)))
	reqHeaders, err := readFields(tp)
	if err != nil && !errors.Is(err, io.EOF) {
		return sRes, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sRes.RequestHeaders = reqHeaders

	br := bufio.NewReader(bytes.NewReader(resBytes))
	tp = textproto.NewReader(br)
	meta, err := readFields(tp)
	if err != nil {
		return sRes, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	lineStr, err := tp.ReadLine()
	if err != nil {
		return sRes, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	line, err := httpcache.ParseStatusLine(lineStr)
	if err != nil {
		return sRes, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	headers, err := readFields(tp)
	if err != nil {
		return sRes, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	storedAt, ok := meta.Get(storedAtHeaderName)
	if !ok {
		return sRes, fmt.Errorf("%w: missing %s", ErrMalformed, storedAtHeaderName)
	}
	nanos, err := strconv.ParseInt(storedAt, 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("%w: %s: %v", ErrMalformed, storedAtHeaderName, err)
	}
	sRes.StoredAt = time.Unix(0, nanos)

	var p payload.Payload
	if t, ok := meta.Get(payloadTypeHeaderName); ok {
		mimeType, err := payload.ParseMIMEType(t)
		if err != nil {
			return sRes, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		body, err := io.ReadAll(br)
		if err != nil {
			return sRes, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p = payload.NewBytes(body, mimeType)
	}
	sRes.Response = httpcache.NewResponse(line, headers, p)
	return sRes, nil
}

func writeFields(buf *bytes.Buffer, headers httpcache.Headers) {
	for _, f := range headers.All() {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
}

// readFields reads field lines up to the first empty line, keeping their order.
func readFields(tp *textproto.Reader) (httpcache.Headers, error) {
	var fields []httpcache.Header
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return httpcache.NewHeaders(fields...), err
		}
		if line == "" {
			return httpcache.NewHeaders(fields...), nil
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return httpcache.Headers{}, fmt.Errorf("malformed field line %q", line)
		}
		fields = append(fields, httpcache.Header{Name: name, Value: strings.TrimPrefix(value, " ")})
	}
}
