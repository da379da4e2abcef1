package capture

import "sync"

// An ImageStage holds a multi-image selection between picking and the
// explicit send confirmation. A single picked image bypasses the stage and
// is sent immediately; only selections of two or more are staged.
type ImageStage struct {
	mu   sync.Mutex
	uris []string
}

// Set replaces the staged selection.
func (s *ImageStage) Set(uris []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uris = append([]string(nil), uris...)
}

// URIs returns a copy of the staged selection in pick order.
func (s *ImageStage) URIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uris...)
}

// Len returns the number of staged images.
func (s *ImageStage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uris)
}

// Clear abandons the staged selection.
func (s *ImageStage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uris = nil
}
