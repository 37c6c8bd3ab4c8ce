package httpcache

import (
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpcache/payload"
)

// CreateResponse builds a response from what the transport received.
//
// Responses whose status does not allow content never get a payload; their
// body stream is closed right away. A nil body means no payload. Otherwise
// the body is wrapped as a lazy payload, typed by Content-Type and sized by
// Content-Length. The body is never read here.
func CreateResponse(line StatusLine, headers Headers, body io.ReadCloser) *Response {
	if !line.Status.IsBodyContentAllowed() {
		if body != nil {
			if err := body.Close(); err != nil {
				log.Debug().Err(err).Int("status", line.Status.Code).Msg("Could not close body of body-less response")
			}
		}
		return &Response{line: line, headers: headers}
	}
	if body == nil {
		return &Response{line: line, headers: headers}
	}
	t, ok := headers.ContentType()
	if !ok {
		t = payload.ApplicationOctetStream
	}
	return &Response{
		line:    line,
		headers: headers,
		payload: payload.NewStream(body, t, headers.ContentLength()),
	}
}

// FromHTTP wraps a response from net/http. The response body is handed over.
func FromHTTP(res *http.Response) *Response {
	line := StatusLine{
		Status:  NewStatus(res.StatusCode),
		Version: res.Proto,
	}
	if res.Proto == "" {
		line.Version = defaultVersion
	}
	headers := FromHTTPHeader(res.Header)
	if res.ContentLength >= 0 && !headers.Has("Content-Length") {
		headers = headers.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	body := res.Body
	if body == http.NoBody {
		body = nil
	}
	return CreateResponse(line, headers, body)
}
