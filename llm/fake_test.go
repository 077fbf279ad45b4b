package llm

import (
	"context"
	"errors"
	"sync"
)

type recordingCompleter struct {
	mu       sync.Mutex
	requests []CompletionRequest
	content  string
	usage    *ChatUsage
	err      error
}

func (r *recordingCompleter) Complete(_ context.Context, req CompletionRequest) (Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return Completion{}, r.err
	}
	return Completion{Content: r.content, Usage: r.usage}, nil
}

func (r *recordingCompleter) last() CompletionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

var errProviderDown = errors.New("provider down")
