// Package capture holds the attachment capture state machines: voice
// recording and multi-image staging. Both produce local file URIs; upload
// belongs to the send path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MinClipDuration is the shortest clip worth sending.
const MinClipDuration = time.Second

var (
	// ErrPermissionDenied reports a missing microphone permission.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrTooShort reports a clip under MinClipDuration; the file has been
	// discarded.
	ErrTooShort = errors.New("recording too short")
	// ErrNotRecording reports a stop or cancel without an active capture.
	ErrNotRecording = errors.New("not recording")
	// ErrBusy reports a start while a capture is already active.
	ErrBusy = errors.New("already recording")
)

// State enumerates the voice capture lifecycle.
type State int

const (
	Idle State = iota
	Recording
	Stopped
	Cancelled
)

// A Microphone is the platform audio capture device.
type Microphone interface {
	// Start begins capturing to a new local file.
	Start(ctx context.Context) error
	// Finish finalizes the capture and returns the file URI.
	Finish(ctx context.Context) (string, error)
	// Discard finalizes the capture and deletes the file.
	Discard(ctx context.Context) error
}

// PermissionFunc asks the platform whether microphone access is granted.
type PermissionFunc func(ctx context.Context) (bool, error)

// A VoiceRecorder drives one voice capture at a time through
// idle -> recording -> stopped or cancelled. Duration is tracked with
// one-second granularity from the moment recording starts.
type VoiceRecorder struct {
	mic    Microphone
	perm   PermissionFunc
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	startedAt time.Time
}

// NewVoiceRecorder builds a recorder over the platform microphone. perm
// may be nil when permission handling happens elsewhere.
func NewVoiceRecorder(mic Microphone, perm PermissionFunc, logger *slog.Logger) *VoiceRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceRecorder{
		mic:    mic,
		perm:   perm,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins a capture. It fails with ErrPermissionDenied when the
// microphone permission is not granted and with ErrBusy when a capture is
// already running.
func (r *VoiceRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Recording {
		return ErrBusy
	}
	if r.perm != nil {
		granted, err := r.perm(ctx)
		if err != nil {
			return fmt.Errorf("check permission: %w", err)
		}
		if !granted {
			return ErrPermissionDenied
		}
	}
	if err := r.mic.Start(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	r.state = Recording
	r.startedAt = r.now()
	return nil
}

// Stop finalizes the capture. Clips shorter than MinClipDuration are
// discarded and reported as ErrTooShort. On success it returns the local
// file URI and the duration in whole seconds.
func (r *VoiceRecorder) Stop(ctx context.Context) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return "", 0, ErrNotRecording
	}
	r.state = Stopped

	seconds := r.elapsedSeconds()
	if time.Duration(seconds)*time.Second < MinClipDuration {
		if err := r.mic.Discard(ctx); err != nil {
			r.logger.Error("Could not discard short clip", "error", err.Error())
		}
		return "", 0, ErrTooShort
	}

	uri, err := r.mic.Finish(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("finish recording: %w", err)
	}
	return uri, seconds, nil
}

// Cancel discards the capture unconditionally.
func (r *VoiceRecorder) Cancel(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Recording {
		return ErrNotRecording
	}
	r.state = Cancelled
	if err := r.mic.Discard(ctx); err != nil {
		return fmt.Errorf("discard recording: %w", err)
	}
	return nil
}

// Recording reports whether a capture is active.
func (r *VoiceRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Recording
}

// Duration returns the elapsed capture time in whole seconds, for the
// on-screen counter.
func (r *VoiceRecorder) Duration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return 0
	}
	return r.elapsedSeconds()
}

func (r *VoiceRecorder) elapsedSeconds() int {
	return int(r.now().Sub(r.startedAt) / time.Second)
}
