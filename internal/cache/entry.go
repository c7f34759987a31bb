package cache

import (
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// Entry is a stored request/response pair
type Entry struct {
	Key      string      `json:"key"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// NewEntry copies resp into an entry keyed by req. Headers are stored as
// received.
func NewEntry(req *types.Request, resp *types.Response) *Entry {
	stored := resp.Clone()
	if stored.Header == nil {
		stored.Header = make(http.Header)
	}

	rawURL := req.URL.String()
	return &Entry{
		Key:      Key(req.Method, rawURL),
		Method:   req.Method,
		URL:      NormalizeURL(rawURL),
		Status:   stored.Status,
		Header:   stored.Header,
		Body:     stored.Body,
		StoredAt: time.Now().UTC(),
	}
}

// DetectContentType sniffs a media type from body
func DetectContentType(body []byte) string {
	return mimetype.Detect(body).String()
}

// Response returns a copy of the stored response
func (e *Entry) Response() *types.Response {
	resp := &types.Response{
		Status: e.Status,
		Header: e.Header,
		Body:   e.Body,
	}
	return resp.Clone()
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	return &Entry{
		Key:      e.Key,
		Method:   e.Method,
		URL:      e.URL,
		Status:   e.Status,
		Header:   e.Header.Clone(),
		Body:     body,
		StoredAt: e.StoredAt,
	}
}
