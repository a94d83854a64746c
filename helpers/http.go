package helpers

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"
)

type MockReply struct {
	Status int
	Body   string
	Err    error
}

// MockHTTP replies from Replies in order, last reply repeats.
// Zero Replies means 200 with empty body.
type MockHTTP struct {
	mu      sync.Mutex
	Replies []MockReply
	paths   []string
}

var _ http.RoundTripper = &MockHTTP{}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	n := len(m.paths)
	m.paths = append(m.paths, req.URL.Path)
	reply := MockReply{Status: http.StatusOK}
	if len(m.Replies) != 0 {
		if n >= len(m.Replies) {
			n = len(m.Replies) - 1
		}
		reply = m.Replies[n]
	}
	m.mu.Unlock()

	if req.Body != nil {
		_, _ = ioutil.ReadAll(req.Body)
		req.Body.Close()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", reply.Status, http.StatusText(reply.Status)),
		StatusCode:    reply.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          ioutil.NopCloser(strings.NewReader(reply.Body)),
		ContentLength: int64(len(reply.Body)),
		Request:       req,
	}, nil
}

// Paths of requests seen so far.
func (m *MockHTTP) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}
