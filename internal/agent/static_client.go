package agent

import (
	"context"
	"fmt"
	"sync"
)

// StaticClient is a test double that returns scripted responses in order,
// from one script shared by every modelID, without touching the network.
type StaticClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	calls     int
	Recorded  []string
}

// NewStaticClient builds a StaticClient that replays responses in order.
func NewStaticClient(responses ...string) *StaticClient {
	return &StaticClient{Responses: responses}
}

// Call returns the next scripted response, or an error if the script is
// exhausted or Err is set.
func (s *StaticClient) Call(_ context.Context, modelID, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Recorded = append(s.Recorded, prompt)

	if s.Err != nil {
		return "", s.Err
	}
	if s.calls >= len(s.Responses) {
		return "", fmt.Errorf("static client: no scripted response for call %d (model %s)", s.calls, modelID)
	}
	resp := s.Responses[s.calls]
	s.calls++
	return resp, nil
}

// CallCount reports how many times Call has been invoked.
func (s *StaticClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
