package types

import (
	"net/http"
	"net/url"
	"strings"
)

// CacheHeader reports how the agent answered a proxied request
const CacheHeader = "X-Cache"

// Request represents an intercepted outgoing request. Body is only carried
// for requests that pass through to the network.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest builds a request from a raw URL. An unparsable URL yields a
// request with an empty URL so that callers can still bypass it.
func NewRequest(method, rawURL string) *Request {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: make(http.Header),
	}
}

// Origin returns scheme://host of the request URL
func (r *Request) Origin() string {
	if r.URL == nil || r.URL.Host == "" {
		return ""
	}
	return strings.ToLower(r.URL.Scheme) + "://" + strings.ToLower(r.URL.Host)
}

// Hostname returns the lower-cased host without port
func (r *Request) Hostname() string {
	if r.URL == nil {
		return ""
	}
	return strings.ToLower(r.URL.Hostname())
}

// Accepts reports whether the Accept header mentions the given media type.
// A missing header accepts nothing.
func (r *Request) Accepts(mediaType string) bool {
	if r.Header == nil {
		return false
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	return strings.Contains(accept, mediaType)
}

// Response represents a complete response with a buffered body
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the response status is exactly 200
func (r *Response) OK() bool {
	return r != nil && r.Status == http.StatusOK
}

// Clone returns a deep copy so a stored response never aliases a live one
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   body,
	}
}

// Message kinds accepted from controlled pages
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// Message represents an inbound page message
type Message struct {
	Type string `json:"type" binding:"required"`
}

// Reply represents a message reply sent back over a port
type Reply struct {
	Version string `json:"version"`
}

// WSMessage represents a frame on the websocket message channel
type WSMessage struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}
