package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neilotoole/slogt"

	"github.com/cookshare/messaging/capture"
)

type testservice struct {
	T                  *testing.T
	conversation       func(t *testing.T, partnerID string, limit, offset int) ([]Message, error)
	send               func(t *testing.T, req SendRequest) (Message, error)
	toggleReaction     func(t *testing.T, messageID, emoji string) (bool, error)
	delete             func(t *testing.T, messageID string) error
	deleteConversation func(t *testing.T, partnerID string) (int, error)
}

func (s *testservice) Conversation(_ context.Context, partnerID string, limit, offset int) ([]Message, error) {
	if s.conversation == nil {
		return nil, nil
	}
	return s.conversation(s.T, partnerID, limit, offset)
}

func (s *testservice) Send(_ context.Context, req SendRequest) (Message, error) {
	return s.send(s.T, req)
}

func (s *testservice) ToggleReaction(_ context.Context, messageID, emoji string) (bool, error) {
	return s.toggleReaction(s.T, messageID, emoji)
}

func (s *testservice) Delete(_ context.Context, messageID string) error {
	return s.delete(s.T, messageID)
}

func (s *testservice) DeleteConversation(_ context.Context, partnerID string) (int, error) {
	return s.deleteConversation(s.T, partnerID)
}

type testalerter struct {
	errors, warnings, infos, successes []string
}

func (a *testalerter) Error(msg, _ string)   { a.errors = append(a.errors, msg) }
func (a *testalerter) Warning(msg, _ string) { a.warnings = append(a.warnings, msg) }
func (a *testalerter) Info(msg, _ string)    { a.infos = append(a.infos, msg) }
func (a *testalerter) Success(msg, _ string) { a.successes = append(a.successes, msg) }

type testscroller struct {
	bottoms int
	offsets []float64
}

func (s *testscroller) ScrollToBottom()          { s.bottoms++ }
func (s *testscroller) ScrollTo(offsetY float64) { s.offsets = append(s.offsets, offsetY) }

func newTestController(t *testing.T, svc *testservice) (*Controller, *testalerter, *testscroller) {
	t.Helper()
	svc.T = t
	alerter := &testalerter{}
	scroller := &testscroller{}
	c := NewController(Config{
		PartnerID: "partner",
		UserID:    "me",
		UserName:  "Me",
		Service:   svc,
		Scroller:  scroller,
		Alerter:   alerter,
		Logger:    slogt.New(t),
	})
	return c, alerter, scroller
}

func TestController_Poll(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	server := []Message{
		{ID: "1", SenderID: "partner", Type: TypeText, Content: "hi", CreatedAt: base, State: StateConfirmed},
	}

	svc := &testservice{
		conversation: func(t *testing.T, partnerID string, limit, offset int) ([]Message, error) {
			if partnerID != "partner" {
				t.Errorf("Got partner %q, want partner", partnerID)
			}
			return server, nil
		},
	}
	c, alerter, scroller := newTestController(t, svc)

	c.Poll(context.Background())

	if got := c.Messages(); len(got) != 1 || got[0].ID != "1" {
		t.Errorf("Got messages %+v, want server list", got)
	}
	if scroller.bottoms != 1 {
		t.Errorf("Got %d jumps to bottom, want 1 on first load", scroller.bottoms)
	}
	if len(alerter.errors) != 0 {
		t.Errorf("Unexpected alerts: %v", alerter.errors)
	}
}

func TestController_Poll_errors(t *testing.T) {
	calls := 0
	svc := &testservice{
		conversation: func(t *testing.T, partnerID string, limit, offset int) ([]Message, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("network down")
			}
			return []Message{{ID: "1", State: StateConfirmed}}, nil
		},
	}
	c, alerter, _ := newTestController(t, svc)

	// Failing before the first load surfaces an alert.
	failing := &testservice{
		T: t,
		conversation: func(t *testing.T, partnerID string, limit, offset int) ([]Message, error) {
			return nil, errors.New("network down")
		},
	}
	cFail, alertFail, _ := newTestController(t, failing)
	cFail.Poll(context.Background())
	if len(alertFail.errors) != 1 {
		t.Errorf("Got %d alerts before first load, want 1", len(alertFail.errors))
	}

	// After a successful load, a failing poll is silent and keeps the list.
	c.Poll(context.Background())
	c.Poll(context.Background())
	if len(alerter.errors) != 0 {
		t.Errorf("Transient poll failure alerted: %v", alerter.errors)
	}
	if got := c.Messages(); len(got) != 1 {
		t.Errorf("Poll failure dropped the local list, got %d messages", len(got))
	}
}

func TestController_SendText(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var pendingSeen bool
	svc := &testservice{}
	svc.send = func(t *testing.T, req SendRequest) (Message, error) {
		if req.Content != "hello" {
			t.Errorf("Got content %q, want hello", req.Content)
		}
		if req.Type != TypeText {
			t.Errorf("Got type %q, want text", req.Type)
		}
		return Message{
			ID:         "srv-1",
			SenderID:   "me",
			ReceiverID: "partner",
			Type:       TypeText,
			Content:    "hello",
			CreatedAt:  base,
		}, nil
	}
	c, alerter, _ := newTestController(t, svc)

	// Snapshot the pending state from inside the service call.
	inner := svc.send
	svc.send = func(t *testing.T, req SendRequest) (Message, error) {
		for _, m := range c.Messages() {
			if m.Pending() && m.Content == "hello" {
				pendingSeen = true
			}
		}
		return inner(t, req)
	}

	if err := c.SendText(context.Background(), "  hello  "); err != nil {
		t.Fatal(err)
	}

	if !pendingSeen {
		t.Error("No pending message visible during the request")
	}
	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].State != StateConfirmed {
		t.Errorf("Pending message not replaced by confirmation: %+v", msgs[0])
	}
	if len(alerter.errors)+len(alerter.warnings) != 0 {
		t.Errorf("Unexpected alerts: %v %v", alerter.errors, alerter.warnings)
	}
}

func TestController_SendText_empty(t *testing.T) {
	svc := &testservice{
		send: func(t *testing.T, req SendRequest) (Message, error) {
			t.Error("Send called for empty input")
			return Message{}, nil
		},
	}
	c, alerter, _ := newTestController(t, svc)

	if err := c.SendText(context.Background(), "   "); err != nil {
		t.Fatal(err)
	}
	if len(alerter.warnings) != 1 {
		t.Errorf("Got %d warnings, want 1", len(alerter.warnings))
	}
}

func TestController_SendText_failureRemovesPending(t *testing.T) {
	svc := &testservice{
		send: func(t *testing.T, req SendRequest) (Message, error) {
			return Message{}, errors.New("boom")
		},
	}
	c, alerter, _ := newTestController(t, svc)

	if err := c.SendText(context.Background(), "hello"); err == nil {
		t.Fatal("Got nil error, want failure")
	}
	if got := c.Messages(); len(got) != 0 {
		t.Errorf("Failed send left %d messages behind", len(got))
	}
	if len(alerter.errors) != 1 {
		t.Errorf("Got %d alerts, want 1", len(alerter.errors))
	}
}

func TestController_SendText_carriesReply(t *testing.T) {
	svc := &testservice{
		send: func(t *testing.T, req SendRequest) (Message, error) {
			if req.ReplyToID != "orig" {
				t.Errorf("Got reply_to %q, want orig", req.ReplyToID)
			}
			return Message{ID: "srv-1", Content: req.Content}, nil
		},
	}
	c, _, _ := newTestController(t, svc)

	c.SetReply("orig")
	if err := c.SendText(context.Background(), "answer"); err != nil {
		t.Fatal(err)
	}
	if got := c.ReplyingTo(); got != "" {
		t.Errorf("Reply target not cleared after send, got %q", got)
	}
}

func TestController_React(t *testing.T) {
	msgs := []Message{{ID: "1", SenderID: "partner", State: StateConfirmed}}
	svc := &testservice{
		conversation: func(t *testing.T, partnerID string, limit, offset int) ([]Message, error) {
			return msgs, nil
		},
		toggleReaction: func(t *testing.T, messageID, emoji string) (bool, error) {
			if messageID != "1" || emoji != "👍" {
				t.Errorf("Got toggle (%q, %q), want (1, 👍)", messageID, emoji)
			}
			return true, nil
		},
	}
	c, _, _ := newTestController(t, svc)
	c.Poll(context.Background())

	if err := c.React(context.Background(), "1", "👍"); err != nil {
		t.Fatal(err)
	}
	got := c.Messages()
	if !got[0].HasReaction("me", "👍") {
		t.Error("Optimistic reaction not applied")
	}
}

func TestController_React_revertsOnFailure(t *testing.T) {
	msgs := []Message{{ID: "1", SenderID: "partner", State: StateConfirmed}}
	svc := &testservice{
		conversation: func(t *testing.T, partnerID string, limit, offset int) ([]Message, error) {
			return msgs, nil
		},
		toggleReaction: func(t *testing.T, messageID, emoji string) (bool, error) {
			return false, errors.New("boom")
		},
	}
	c, alerter, _ := newTestController(t, svc)
	c.Poll(context.Background())

	if err := c.React(context.Background(), "1", "👍"); err == nil {
		t.Fatal("Got nil error, want failure")
	}
	got := c.Messages()
	if got[0].HasReaction("me", "👍") {
		t.Error("Failed toggle not reverted")
	}
	if len(alerter.errors) != 1 {
		t.Errorf("Got %d alerts, want 1", len(alerter.errors))
	}
}

func TestController_DeleteMessage(t *testing.T) {
	msgs := []Message{
		{ID: "1", SenderID: "me", State: StateConfirmed},
		{ID: "2", SenderID: "partner", State: StateConfirmed},
	}
	svc := &testservice{
		conversation: func(t *testing.T, partnerID string, limit, offset int) ([]Message, error) {
			return msgs, nil
		},
		delete: func(t *testing.T, messageID string) error {
			if messageID != "1" {
				t.Errorf("Got id %q, want 1", messageID)
			}
			return nil
		},
	}
	c, alerter, _ := newTestController(t, svc)
	c.Poll(context.Background())

	if err := c.DeleteMessage(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	got := c.Messages()
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("Got messages %+v, want only message 2", got)
	}
	if len(alerter.successes) != 1 {
		t.Errorf("Got %d success notices, want 1", len(alerter.successes))
	}
}

func TestController_PickImages(t *testing.T) {
	var sent []string
	svc := &testservice{
		send: func(t *testing.T, req SendRequest) (Message, error) {
			if req.Type != TypeImage {
				t.Errorf("Got type %q, want image", req.Type)
			}
			sent = append(sent, req.ImageURI)
			return Message{ID: "srv-" + req.ImageURI}, nil
		},
	}
	c, _, scroller := newTestController(t, svc)

	// A single pick sends immediately.
	if err := c.PickImages(context.Background(), []string{"file:///a.jpg"}); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 {
		t.Fatalf("Got %d sends, want 1", len(sent))
	}

	// Several picks stage until confirmed.
	sent = nil
	if err := c.PickImages(context.Background(), []string{"file:///b.jpg", "file:///c.jpg"}); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 0 {
		t.Fatalf("Staged pick sent immediately: %v", sent)
	}
	if got := c.StagedImages(); len(got) != 2 {
		t.Fatalf("Got %d staged images, want 2", len(got))
	}

	if err := c.ConfirmStagedImages(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 2 || sent[0] != "file:///b.jpg" || sent[1] != "file:///c.jpg" {
		t.Errorf("Got sends %v, want staged order", sent)
	}
	if got := c.StagedImages(); len(got) != 0 {
		t.Errorf("Stage not cleared after confirm, got %v", got)
	}
	if scroller.bottoms == 0 {
		t.Error("No jump to bottom after multi-image send")
	}
}

func TestController_ConfirmStagedImages_stopsOnFailure(t *testing.T) {
	var sent int
	svc := &testservice{
		send: func(t *testing.T, req SendRequest) (Message, error) {
			sent++
			if sent == 2 {
				return Message{}, errors.New("boom")
			}
			return Message{ID: "srv"}, nil
		},
	}
	c, _, _ := newTestController(t, svc)

	if err := c.PickImages(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	if err := c.ConfirmStagedImages(context.Background()); err == nil {
		t.Fatal("Got nil error, want failure")
	}
	if sent != 2 {
		t.Errorf("Got %d sends, want 2 (stop at first failure)", sent)
	}
	if got := c.StagedImages(); len(got) != 3 {
		t.Errorf("Stage cleared despite failure, got %d images", len(got))
	}
}

type testrecorder struct {
	startErr  error
	stopURI   string
	stopSecs  int
	stopErr   error
	recording bool
	cancelled bool
}

func (r *testrecorder) Start(context.Context) error { return r.startErr }
func (r *testrecorder) Stop(context.Context) (string, int, error) {
	return r.stopURI, r.stopSecs, r.stopErr
}
func (r *testrecorder) Cancel(context.Context) error { r.cancelled = true; return nil }
func (r *testrecorder) Recording() bool              { return r.recording }

func TestController_recording(t *testing.T) {
	t.Run("PermissionDenied", func(t *testing.T) {
		svc := &testservice{}
		c, alerter, _ := newTestController(t, svc)
		c.recorder = &testrecorder{startErr: capture.ErrPermissionDenied}

		if err := c.StartRecording(context.Background()); !errors.Is(err, capture.ErrPermissionDenied) {
			t.Fatalf("Got error %v, want permission denied", err)
		}
		if len(alerter.warnings) != 1 {
			t.Errorf("Got %d warnings, want 1", len(alerter.warnings))
		}
	})

	t.Run("TooShortNotice", func(t *testing.T) {
		svc := &testservice{
			send: func(t *testing.T, req SendRequest) (Message, error) {
				t.Error("Short clip was sent")
				return Message{}, nil
			},
		}
		c, alerter, _ := newTestController(t, svc)
		c.recorder = &testrecorder{stopErr: capture.ErrTooShort}

		if err := c.FinishRecording(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(alerter.infos) != 1 {
			t.Errorf("Got %d notices, want 1", len(alerter.infos))
		}
	})

	t.Run("FinishSendsClip", func(t *testing.T) {
		svc := &testservice{
			send: func(t *testing.T, req SendRequest) (Message, error) {
				if req.Type != TypeVoice {
					t.Errorf("Got type %q, want voice", req.Type)
				}
				if req.VoiceURI != "file:///clip.m4a" || req.VoiceDuration != 3 {
					t.Errorf("Got clip (%q, %d), want (file:///clip.m4a, 3)", req.VoiceURI, req.VoiceDuration)
				}
				return Message{ID: "srv-1", Type: TypeVoice}, nil
			},
		}
		c, _, _ := newTestController(t, svc)
		c.recorder = &testrecorder{stopURI: "file:///clip.m4a", stopSecs: 3}

		if err := c.FinishRecording(context.Background()); err != nil {
			t.Fatal(err)
		}
	})
}

func TestController_RecentMedia(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var msgs []Message
	for i := 0; i < 15; i++ {
		typ := TypeImage
		if i%2 == 1 {
			typ = TypeVoice
		}
		msgs = append(msgs, Message{
			ID:        string(rune('a' + i)),
			Type:      typ,
			MediaURL:  "/media/x",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			State:     StateConfirmed,
		})
	}
	msgs = append(msgs, Message{ID: "txt", Type: TypeText, CreatedAt: base.Add(time.Hour), State: StateConfirmed})

	svc := &testservice{
		conversation: func(t *testing.T, partnerID string, limit, offset int) ([]Message, error) {
			return msgs, nil
		},
	}
	c, _, _ := newTestController(t, svc)
	c.Poll(context.Background())

	got := c.RecentMedia()
	if len(got) != 12 {
		t.Fatalf("Got %d media items, want 12", len(got))
	}
	// The newest attachments survive the cap; text never appears.
	if got[len(got)-1].ID != string(rune('a'+14)) {
		t.Errorf("Got last item %q, want newest attachment", got[len(got)-1].ID)
	}
	for _, it := range got {
		if it.Type == TypeText {
			t.Errorf("Text message %q in media drawer", it.ID)
		}
	}
}
