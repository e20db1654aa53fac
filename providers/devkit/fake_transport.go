package devkit

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"

	"github.com/goliatone/go-keyprobe/core"
)

// TransportScript is one canned reply: a response, an error, or both.
type TransportScript struct {
	Response core.TransportResponse
	Err      error
}

// JSONResponse scripts a reply with a JSON content type.
func JSONResponse(status int, body string) TransportScript {
	return TransportScript{Response: core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(body),
	}}
}

type replay struct {
	fragment string
	scripts  []TransportScript
	next     int
}

// pop returns the next script, sticking on the last one.
func (r *replay) pop() (TransportScript, bool) {
	if len(r.scripts) == 0 {
		return TransportScript{}, false
	}
	idx := min(r.next, len(r.scripts)-1)
	r.next++
	return r.scripts[idx], true
}

// FakeTransportAdapter replays scripted replies and captures every request.
// Routes are matched by URL substring in the order they were added; requests
// matching no route fall through to the default script.
type FakeTransportAdapter struct {
	mu       sync.Mutex
	kind     string
	fallback *replay
	routes   []*replay
	seen     []core.TransportRequest
}

func NewFakeTransportAdapter(kind string, scripts ...TransportScript) *FakeTransportAdapter {
	return &FakeTransportAdapter{
		kind:     strings.ToLower(strings.TrimSpace(kind)),
		fallback: &replay{scripts: append([]TransportScript(nil), scripts...)},
	}
}

// Route scripts replies for requests whose URL contains fragment.
func (a *FakeTransportAdapter) Route(fragment string, scripts ...TransportScript) *FakeTransportAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes = append(a.routes, &replay{
		fragment: fragment,
		scripts:  append([]TransportScript(nil), scripts...),
	})
	return a
}

func (a *FakeTransportAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *FakeTransportAdapter) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil {
		return core.TransportResponse{}, errors.New("devkit: nil fake transport")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen = append(a.seen, copyRequest(req))
	script, ok := a.lookup(req.URL).pop()
	if !ok {
		return core.TransportResponse{
			StatusCode: 200,
			Headers:    map[string]string{},
			Metadata:   map[string]any{"kind": a.kind},
		}, nil
	}
	return copyResponse(script.Response), script.Err
}

func (a *FakeTransportAdapter) lookup(url string) *replay {
	for _, route := range a.routes {
		if route.fragment != "" && strings.Contains(url, route.fragment) {
			return route
		}
	}
	return a.fallback
}

// Requests returns copies of every request seen so far.
func (a *FakeTransportAdapter) Requests() []core.TransportRequest {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.TransportRequest, len(a.seen))
	for i, req := range a.seen {
		out[i] = copyRequest(req)
	}
	return out
}

func copyRequest(in core.TransportRequest) core.TransportRequest {
	out := in
	out.Headers = copyStrings(in.Headers)
	out.Query = copyStrings(in.Query)
	out.Body = append([]byte(nil), in.Body...)
	out.Metadata = core.CloneMap(in.Metadata)
	return out
}

func copyResponse(in core.TransportResponse) core.TransportResponse {
	out := in
	out.Headers = copyStrings(in.Headers)
	out.Body = append([]byte(nil), in.Body...)
	out.Metadata = core.CloneMap(in.Metadata)
	return out
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	maps.Copy(out, in)
	return out
}

var _ core.TransportAdapter = (*FakeTransportAdapter)(nil)
