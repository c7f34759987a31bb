// Package testutil provides testing utilities and helpers for agent tests.
package testutil

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// MockFetcher is a mock implementation of fetch.Fetcher for testing.
type MockFetcher struct {
	mock.Mock
}

// Fetch mocks the Fetch method.
func (m *MockFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Response).Clone(), args.Error(1)
}

// MockControls is a mock implementation of agent.Controls for testing.
type MockControls struct {
	mock.Mock
}

// SkipWaiting mocks the SkipWaiting method.
func (m *MockControls) SkipWaiting() {
	m.Called()
}

// Claim mocks the Claim method.
func (m *MockControls) Claim(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// RecordingPort collects replies posted to it.
type RecordingPort struct {
	mu      sync.Mutex
	Replies []types.Reply
	Err     error
}

// PostMessage records reply and returns Err.
func (p *RecordingPort) PostMessage(reply types.Reply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Replies = append(p.Replies, reply)
	return p.Err
}

// Received returns a copy of the recorded replies.
func (p *RecordingPort) Received() []types.Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Reply(nil), p.Replies...)
}

// NewMockControls creates mock controls that accept every call.
func NewMockControls(t *testing.T) *MockControls {
	t.Helper()
	m := new(MockControls)

	m.On("SkipWaiting").Return().Maybe()
	m.On("Claim", mock.Anything).Return(nil).Maybe()

	return m
}

// ForURL matches a request by its full URL string.
func ForURL(rawURL string) interface{} {
	return mock.MatchedBy(func(req *types.Request) bool {
		return req.URL != nil && req.URL.String() == rawURL
	})
}

// CreateTestResponse creates a response with a text/plain body.
func CreateTestResponse(t *testing.T, status int, body string) *types.Response {
	t.Helper()

	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &types.Response{
		Status: status,
		Header: header,
		Body:   []byte(body),
	}
}

// CreateTestRequest creates a GET request with an optional Accept header.
func CreateTestRequest(t *testing.T, rawURL, accept string) *types.Request {
	t.Helper()

	req := types.NewRequest(http.MethodGet, rawURL)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

// AssertResponse asserts a response's status and body.
func AssertResponse(t *testing.T, resp *types.Response, status int, body string) {
	t.Helper()
	if resp == nil {
		t.Fatal("Response is nil")
	}
	if resp.Status != status {
		t.Fatalf("Expected status %d, got %d", status, resp.Status)
	}
	if string(resp.Body) != body {
		t.Fatalf("Expected body %q, got %q", body, string(resp.Body))
	}
}
