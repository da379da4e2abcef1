// Package playback resolves stored media URLs into playable sound through
// an ordered chain of fallback strategies, and enforces the single active
// clip policy.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// A Sound is a live playback handle. Stopping it releases the underlying
// audio resources.
type Sound interface {
	Stop(ctx context.Context) error
}

// A Loader loads a URI and starts playing it. formatHint, when non-empty,
// names the container format to assume instead of sniffing. onFinish is
// invoked exactly once if playback reaches its natural end.
type Loader interface {
	Load(ctx context.Context, uri, formatHint string, onFinish func()) (Sound, error)
}

// A Strategy produces one candidate source for a media URL. Resolve
// returns an empty uri when the strategy does not apply. cleanup, when
// non-nil, releases resources the attempt created; the player runs it when
// playback finishes naturally, or immediately when the candidate fails to
// load.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, url string) (uri, formatHint string, cleanup func(), err error)
}

// PlayerConfig assembles a Player.
type PlayerConfig struct {
	Loader  Loader
	Logger  *slog.Logger
	BaseURL string // API base, for resolving relative media URLs

	// HTTPClient serves the download fallback. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	// TempDir receives downloaded clips. Defaults to os.TempDir().
	TempDir string
	// Strategies overrides the default chain. Used by tests.
	Strategies []Strategy
}

// A Player plays at most one voice clip at a time. Starting a new clip
// stops and releases the current one; toggling the playing clip stops it
// without starting anything.
type Player struct {
	loader     Loader
	logger     *slog.Logger
	baseURL    string
	httpc      *http.Client
	tmpDir     string
	strategies []Strategy

	mu        sync.Mutex
	current   Sound
	currentID string
}

// NewPlayer builds a Player with the default strategy chain: delivery
// transcode, original URL, alternate raw transform, format sniffing on the
// untransformed URL, and finally download-and-play-local.
func NewPlayer(cfg PlayerConfig) *Player {
	p := &Player{
		loader:  cfg.Loader,
		logger:  cfg.Logger,
		baseURL: cfg.BaseURL,
		httpc:   cfg.HTTPClient,
		tmpDir:  cfg.TempDir,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.httpc == nil {
		p.httpc = http.DefaultClient
	}
	if p.tmpDir == "" {
		p.tmpDir = os.TempDir()
	}
	p.strategies = cfg.Strategies
	if p.strategies == nil {
		p.strategies = []Strategy{
			{Name: "transcode", Resolve: resolveTranscode},
			{Name: "original", Resolve: resolveOriginal},
			{Name: "raw_transform", Resolve: resolveRawTransform},
			{Name: "sniff", Resolve: resolveSniff},
			{Name: "download", Resolve: p.resolveDownload},
		}
	}
	return p
}

// Toggle starts playback of the clip, or stops it when it is the one
// currently playing. It returns whether the clip is playing afterwards.
// Strategy failures are swallowed until the chain is exhausted; the
// returned error then wraps the last underlying failure for
// diagnosability.
func (p *Player) Toggle(ctx context.Context, clipID, mediaURL string) (bool, error) {
	if mediaURL == "" {
		return false, errors.New("empty media URL")
	}

	p.mu.Lock()
	sameClip := p.currentID == clipID
	cur := p.current
	p.current, p.currentID = nil, ""
	p.mu.Unlock()

	if cur != nil {
		if err := cur.Stop(ctx); err != nil {
			p.logger.Error("Could not stop playback", "error", err.Error())
		}
		if sameClip {
			return false, nil
		}
	}

	url := AbsoluteURL(p.baseURL, mediaURL)

	var lastErr error
	for _, s := range p.strategies {
		uri, hint, cleanup, err := s.Resolve(ctx, url)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", s.Name, err)
			continue
		}
		if uri == "" {
			continue
		}
		sound, err := p.loader.Load(ctx, uri, hint, p.finished(clipID, cleanup))
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", s.Name, err)
			if cleanup != nil {
				cleanup()
			}
			continue
		}
		p.mu.Lock()
		p.current = sound
		p.currentID = clipID
		p.mu.Unlock()
		p.logger.Debug("Playback started", "strategy", s.Name, "clip", clipID)
		return true, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no playable source")
	}
	return false, fmt.Errorf("playback strategies exhausted: %w", lastErr)
}

// Stop releases the current clip, if any.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	cur := p.current
	p.current, p.currentID = nil, ""
	p.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.Stop(ctx)
}

// PlayingID returns the id of the clip currently playing, or "".
func (p *Player) PlayingID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentID
}

func (p *Player) finished(clipID string, cleanup func()) func() {
	return func() {
		p.mu.Lock()
		if p.currentID == clipID {
			p.current, p.currentID = nil, ""
		}
		p.mu.Unlock()
		if cleanup != nil {
			cleanup()
		}
	}
}

func resolveTranscode(_ context.Context, url string) (string, string, func(), error) {
	return TranscodeURL(url), "m4a", nil, nil
}

func resolveOriginal(_ context.Context, url string) (string, string, func(), error) {
	return url, "m4a", nil, nil
}

func resolveRawTransform(_ context.Context, url string) (string, string, func(), error) {
	return RawTransformURL(url), "m4a", nil, nil
}

// resolveSniff retries the untransformed URL with no format hint, leaving
// container detection to the player engine.
func resolveSniff(_ context.Context, url string) (string, string, func(), error) {
	return url, "", nil, nil
}

// resolveDownload fetches the clip to a temporary file and plays it from
// local disk. The file is removed once playback completes naturally.
func (p *Player) resolveDownload(ctx context.Context, url string) (string, string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", "", nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	path := filepath.Join(p.tmpDir, "voice-"+uuid.NewString()+".m4a")
	f, err := os.Create(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", "", nil, fmt.Errorf("close temp file: %w", err)
	}

	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Error("Could not remove temp clip", "error", err.Error())
		}
	}
	return "file://" + path, "m4a", cleanup, nil
}
