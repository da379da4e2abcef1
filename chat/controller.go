package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cookshare/messaging/capture"
)

// pollInterval is how often the conversation is re-fetched from the server.
const defaultPollInterval = 3 * time.Second

// pollPageSize is the number of messages fetched on every poll.
const pollPageSize = 100

// recentMediaLimit caps the media drawer to the newest attachments.
const recentMediaLimit = 12

// A Service provides the backend conversation endpoints the controller
// drives.
type Service interface {
	Conversation(ctx context.Context, partnerID string, limit, offset int) ([]Message, error)
	Send(ctx context.Context, req SendRequest) (Message, error)
	ToggleReaction(ctx context.Context, messageID, emoji string) (bool, error)
	Delete(ctx context.Context, messageID string) error
	DeleteConversation(ctx context.Context, partnerID string) (int, error)
}

// A SendRequest describes one outgoing message.
type SendRequest struct {
	PartnerID     string
	Content       string
	Type          MessageType
	ImageURI      string
	VoiceURI      string
	VoiceDuration int
	ReplyToID     string
}

// A Scroller applies scroll decisions to the platform list view.
type Scroller interface {
	ScrollToBottom()
	ScrollTo(offsetY float64)
}

// An Alerter is the single surface for user-visible notices.
type Alerter interface {
	Error(msg, title string)
	Warning(msg, title string)
	Info(msg, title string)
	Success(msg, title string)
}

// A Recorder captures voice clips.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (uri string, seconds int, err error)
	Cancel(ctx context.Context) error
	Recording() bool
}

// A Player plays voice attachments, at most one at a time.
type Player interface {
	Toggle(ctx context.Context, clipID, mediaURL string) (bool, error)
	Stop(ctx context.Context) error
	PlayingID() string
}

// A MediaItem is one entry in the recent-media drawer.
type MediaItem struct {
	ID      string
	Type    MessageType
	URL     string
	Content string
}

// Config assembles a Controller.
type Config struct {
	PartnerID string
	UserID    string
	UserName  string

	Service  Service
	Scroller Scroller
	Alerter  Alerter
	Recorder Recorder
	Player   Player
	Logger   *slog.Logger

	// PollInterval overrides the 3 second poll timer. Used by tests.
	PollInterval time.Duration
}

// A Controller owns one conversation screen: the message list, the scroll
// guard, the poll loop and every user action. Methods are safe for
// concurrent use; the poll timer and user actions may overlap and the last
// completed mutation wins.
type Controller struct {
	partnerID string
	userID    string
	userName  string

	svc      Service
	scroller Scroller
	alerter  Alerter
	recorder Recorder
	player   Player
	logger   *slog.Logger

	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	guard    *Guard
	messages []Message
	replyTo  string
	sending  bool
	loaded   bool

	stage capture.ImageStage
}

// NewController builds a Controller for one conversation.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Controller{
		partnerID:    cfg.PartnerID,
		userID:       cfg.UserID,
		userName:     cfg.UserName,
		svc:          cfg.Service,
		scroller:     cfg.Scroller,
		alerter:      cfg.Alerter,
		recorder:     cfg.Recorder,
		player:       cfg.Player,
		logger:       logger,
		pollInterval: interval,
		now:          time.Now,
		guard:        NewGuard(),
	}
}

// Run performs the initial load and then polls the conversation until ctx
// is cancelled. On return the poll timer is stopped, any active recording
// is discarded and any playing clip is released.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	c.Poll(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

func (c *Controller) shutdown() {
	ctx := context.Background()
	if c.recorder != nil && c.recorder.Recording() {
		if err := c.recorder.Cancel(ctx); err != nil {
			c.logger.Error("Could not discard recording", "error", err.Error())
		}
	}
	if c.player != nil {
		if err := c.player.Stop(ctx); err != nil {
			c.logger.Error("Could not release playback", "error", err.Error())
		}
	}
}

// Poll fetches the conversation once and reconciles it into the local
// list. Transient errors after the initial load are logged and swallowed;
// the next tick retries.
func (c *Controller) Poll(ctx context.Context) {
	server, err := c.svc.Conversation(ctx, c.partnerID, pollPageSize, 0)
	if err != nil {
		c.mu.Lock()
		loaded := c.loaded
		c.mu.Unlock()
		if loaded {
			c.logger.Debug("Poll failed", "error", err.Error())
			return
		}
		c.alerter.Error("Could not load conversation", "Error")
		return
	}

	c.mu.Lock()
	local, action := Reconcile(c.messages, server, c.guard.State())
	c.messages = local
	c.loaded = true
	c.mu.Unlock()

	c.apply(action)
}

func (c *Controller) apply(a ScrollAction) {
	if c.scroller == nil {
		return
	}
	switch a.Kind {
	case ScrollJumpToBottom:
		c.scroller.ScrollToBottom()
	case ScrollRestoreOffset:
		c.scroller.ScrollTo(a.OffsetY)
	}
}

// SendText sends the trimmed text as a message. Empty input is blocked
// before any network call.
func (c *Controller) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		c.alerter.Warning("Message is empty", "Notice")
		return nil
	}
	return c.send(ctx, SendRequest{
		PartnerID: c.partnerID,
		Content:   text,
		Type:      TypeText,
	}, "Could not send message")
}

// SendVoice sends a recorded clip.
func (c *Controller) SendVoice(ctx context.Context, uri string, seconds int) error {
	return c.send(ctx, SendRequest{
		PartnerID:     c.partnerID,
		Type:          TypeVoice,
		VoiceURI:      uri,
		VoiceDuration: seconds,
	}, "Could not send voice message")
}

func (c *Controller) sendImage(ctx context.Context, uri string) error {
	return c.send(ctx, SendRequest{
		PartnerID: c.partnerID,
		Type:      TypeImage,
		ImageURI:  uri,
	}, "Could not send image")
}

// send applies the optimistic lifecycle: a pending message is appended to
// the tail, then replaced in place by the server-confirmed message, or
// removed again when the request fails.
func (c *Controller) send(ctx context.Context, req SendRequest, alertMsg string) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return nil
	}
	c.sending = true
	req.ReplyToID = c.replyTo

	mediaURI := req.ImageURI
	if req.Type == TypeVoice {
		mediaURI = req.VoiceURI
	}
	temp := Message{
		ID:            "local-" + uuid.NewString(),
		SenderID:      c.userID,
		ReceiverID:    req.PartnerID,
		Type:          req.Type,
		Content:       req.Content,
		MediaURL:      mediaURI,
		MediaDuration: req.VoiceDuration,
		ReplyToID:     req.ReplyToID,
		CreatedAt:     c.now(),
		State:         StatePending,
	}
	c.messages = append(copyMessages(c.messages), temp)
	scroll := c.guard.State()
	c.mu.Unlock()

	if scroll.AtBottom() && !scroll.Dragging {
		c.apply(JumpToBottom())
	}

	msg, err := c.svc.Send(ctx, req)

	c.mu.Lock()
	c.sending = false
	if err != nil {
		c.messages = removeMessage(c.messages, temp.ID)
		c.mu.Unlock()
		c.alerter.Error(alertMsg, "Error")
		return fmt.Errorf("send message: %w", err)
	}
	msg.State = StateConfirmed
	c.messages = replaceMessage(c.messages, temp.ID, msg)
	c.replyTo = ""
	scroll = c.guard.State()
	c.mu.Unlock()

	if scroll.AtBottom() && !scroll.Dragging {
		c.apply(JumpToBottom())
	} else {
		c.apply(RestoreOffset(scroll.OffsetY))
	}
	return nil
}

// PickImages routes an image selection: a single image is sent right away,
// several are staged until the user confirms.
func (c *Controller) PickImages(ctx context.Context, uris []string) error {
	switch len(uris) {
	case 0:
		return nil
	case 1:
		return c.sendImage(ctx, uris[0])
	default:
		c.stage.Set(uris)
		return nil
	}
}

// StagedImages returns the gallery strip awaiting confirmation.
func (c *Controller) StagedImages() []string {
	return c.stage.URIs()
}

// ClearStagedImages abandons the staged selection.
func (c *Controller) ClearStagedImages() {
	c.stage.Clear()
}

// ConfirmStagedImages uploads the staged images one at a time. Sequential
// sends land within the grouping window, which is what renders a
// multi-image send as a single cluster.
func (c *Controller) ConfirmStagedImages(ctx context.Context) error {
	uris := c.stage.URIs()
	if len(uris) == 0 {
		return nil
	}
	for _, uri := range uris {
		if err := c.sendImage(ctx, uri); err != nil {
			return err
		}
	}
	c.stage.Clear()
	c.apply(JumpToBottom())
	return nil
}

// React optimistically toggles the reaction, then confirms it with the
// server. A failed request reverts the local toggle; on success the local
// guess stands and the server's returned value is not used to correct it.
func (c *Controller) React(ctx context.Context, messageID, emoji string) error {
	c.mu.Lock()
	idx := indexOf(c.messages, messageID)
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	offset := c.guard.State().OffsetY
	c.messages = copyMessages(c.messages)
	c.messages[idx] = c.messages[idx].WithToggledReaction(c.userID, emoji, c.userName)
	c.mu.Unlock()

	c.apply(RestoreOffset(offset))

	if _, err := c.svc.ToggleReaction(ctx, messageID, emoji); err != nil {
		c.mu.Lock()
		if idx := indexOf(c.messages, messageID); idx >= 0 {
			c.messages = copyMessages(c.messages)
			c.messages[idx] = c.messages[idx].WithToggledReaction(c.userID, emoji, c.userName)
		}
		c.mu.Unlock()
		c.alerter.Error("Could not update reaction", "Error")
		return fmt.Errorf("toggle reaction: %w", err)
	}
	return nil
}

// DeleteMessage recalls a message. The local copy is removed as soon as
// the server confirms; the next poll reflects the same omission.
func (c *Controller) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.svc.Delete(ctx, messageID); err != nil {
		c.alerter.Error("Could not recall message", "Error")
		return fmt.Errorf("delete message: %w", err)
	}
	c.mu.Lock()
	c.messages = removeMessage(c.messages, messageID)
	offset := c.guard.State().OffsetY
	c.mu.Unlock()
	c.apply(RestoreOffset(offset))
	c.alerter.Success("Message recalled", "Done")
	return nil
}

// DeleteConversation removes every message exchanged with the partner.
func (c *Controller) DeleteConversation(ctx context.Context) error {
	if _, err := c.svc.DeleteConversation(ctx, c.partnerID); err != nil {
		c.alerter.Error("Could not delete conversation", "Error")
		return fmt.Errorf("delete conversation: %w", err)
	}
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
	return nil
}

// SetReply marks the message the next send replies to.
func (c *Controller) SetReply(messageID string) {
	c.mu.Lock()
	c.replyTo = messageID
	c.mu.Unlock()
}

// ClearReply cancels the pending reply.
func (c *Controller) ClearReply() {
	c.mu.Lock()
	c.replyTo = ""
	c.mu.Unlock()
}

// ReplyingTo returns the id of the message being replied to, if any.
func (c *Controller) ReplyingTo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyTo
}

// StartRecording begins a voice capture. A denied microphone permission
// surfaces a prompt and aborts.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c.recorder == nil {
		return errors.New("no recorder configured")
	}
	err := c.recorder.Start(ctx)
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		c.alerter.Warning("Microphone permission is required", "Permission needed")
		return err
	case err != nil:
		c.alerter.Error("Could not start recording", "Error")
		return fmt.Errorf("start recording: %w", err)
	}
	return nil
}

// FinishRecording stops the capture and sends the clip. Clips shorter than
// the minimum duration are discarded with a notice instead of being sent.
func (c *Controller) FinishRecording(ctx context.Context) error {
	if c.recorder == nil {
		return errors.New("no recorder configured")
	}
	uri, seconds, err := c.recorder.Stop(ctx)
	switch {
	case errors.Is(err, capture.ErrTooShort):
		c.alerter.Info("Voice message is too short", "Notice")
		return nil
	case err != nil:
		c.alerter.Error("Could not stop recording", "Error")
		return fmt.Errorf("stop recording: %w", err)
	}
	return c.SendVoice(ctx, uri, seconds)
}

// CancelRecording discards the capture unconditionally.
func (c *Controller) CancelRecording(ctx context.Context) error {
	if c.recorder == nil {
		return nil
	}
	return c.recorder.Cancel(ctx)
}

// PlayVoice toggles playback of a voice message. Decode failures are
// absorbed by the player's strategy chain; only a fully exhausted chain
// surfaces here.
func (c *Controller) PlayVoice(ctx context.Context, messageID, mediaURL string) error {
	if c.player == nil {
		return errors.New("no player configured")
	}
	if _, err := c.player.Toggle(ctx, messageID, mediaURL); err != nil {
		c.alerter.Error("Could not play voice message: "+err.Error(), "Error")
		return fmt.Errorf("play voice: %w", err)
	}
	return nil
}

// OnScroll records a scroll frame.
func (c *Controller) OnScroll(offsetY, contentHeight, viewportHeight float64) {
	c.mu.Lock()
	c.guard.Track(offsetY, contentHeight, viewportHeight)
	c.mu.Unlock()
}

// OnScrollBeginDrag marks the start of a user drag.
func (c *Controller) OnScrollBeginDrag() {
	c.mu.Lock()
	c.guard.BeginDrag()
	c.mu.Unlock()
}

// OnScrollEndDrag marks the end of a user drag.
func (c *Controller) OnScrollEndDrag() {
	c.mu.Lock()
	c.guard.EndDrag()
	c.mu.Unlock()
}

// Messages returns a copy of the local message list.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyMessages(c.messages)
}

// RenderItems returns the grouped view of the local list.
func (c *Controller) RenderItems() []RenderItem {
	c.mu.Lock()
	msgs := c.messages
	c.mu.Unlock()
	return GroupForRender(msgs, c.userID)
}

// RecentMedia returns the newest image and voice attachments, oldest
// first, capped to the drawer size.
func (c *Controller) RecentMedia() []MediaItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	var items []MediaItem
	for _, m := range c.messages {
		if m.Type != TypeImage && m.Type != TypeVoice {
			continue
		}
		items = append(items, MediaItem{
			ID:      m.ID,
			Type:    m.Type,
			URL:     m.MediaURL,
			Content: m.Content,
		})
	}
	if len(items) > recentMediaLimit {
		items = items[len(items)-recentMediaLimit:]
	}
	return items
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func indexOf(msgs []Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func removeMessage(msgs []Message, id string) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func replaceMessage(msgs []Message, id string, repl Message) []Message {
	out := copyMessages(msgs)
	if i := indexOf(out, id); i >= 0 {
		out[i] = repl
	}
	return out
}
