// Package api provides the REST endpoints of the conversation server: the
// authoritative side of the polling contract the chat client drives.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Storage errors the handlers translate into HTTP statuses.
var (
	ErrNotFound  = errors.New("message not found")
	ErrForbidden = errors.New("not allowed")
)

// A DB provides the storage layer that persists messages and reactions.
type DB interface {
	ListConversation(ctx context.Context, userID, partnerID string, limit, offset int, excludeMsgIDs ...string) ([]Message, error)
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	ToggleReaction(ctx context.Context, reaction Reaction) (bool, error)
	DeleteMessage(ctx context.Context, messageID, userID string) error
	DeleteConversation(ctx context.Context, userID, partnerID string) (int, error)
	MarkRead(ctx context.Context, senderID, receiverID string) error
	CountUnread(ctx context.Context, userID string) (int, error)
}

// A Cache provides a hot window over recent conversation messages.
type Cache interface {
	ListConversation(ctx context.Context, userID, partnerID string) ([]Message, error)
	InsertMessage(ctx context.Context, msg Message) error
	Invalidate(ctx context.Context, userID, partnerID string) error
}

// API provides the REST endpoints for the messaging service. The caller's
// identity arrives in the X-User-ID header, set by the session layer in
// front of this service.
type API struct {
	Logger   *slog.Logger
	DB       DB
	Cache    Cache
	Val      *Validator
	MediaDir string

	once sync.Once
	mux  *http.ServeMux

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// pageSize is the default number of messages returned per conversation
// fetch.
var pageSize = 50

// Clients poll every few seconds; allow headroom over that but stop tight
// loops.
const (
	pollRate  = rate.Limit(2)
	pollBurst = 5
)

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /conversations", a.listConversations)
	mux.HandleFunc("GET /conversations/{partnerID}/messages", a.listConversation)
	mux.HandleFunc("DELETE /conversations/{partnerID}", a.deleteConversation)
	mux.HandleFunc("POST /messages", a.createMessage)
	mux.HandleFunc("PUT /messages/{messageID}/reactions", a.toggleReaction)
	mux.HandleFunc("DELETE /messages/{messageID}", a.deleteMessage)
	mux.HandleFunc("GET /messages/unread-count", a.unreadCount)
	if a.MediaDir != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(a.MediaDir))))
	}

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// userID extracts the caller identity. An empty value is a bad request;
// authentication itself is handled upstream.
func (a *API) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		a.respondError(w, http.StatusBadRequest, errors.New("missing X-User-ID header"), "Missing user identity")
		return "", false
	}
	return id, true
}

func (a *API) allowPoll(userID string) bool {
	a.limMu.Lock()
	defer a.limMu.Unlock()
	if a.limiters == nil {
		a.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := a.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(pollRate, pollBurst)
		a.limiters[userID] = lim
	}
	return lim.Allow()
}

func (a *API) listConversation(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []Message `json:"messages"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	partnerID := r.PathValue("partnerID")

	if !a.allowPoll(userID) {
		a.respondError(w, http.StatusTooManyRequests, errors.New("poll rate exceeded"), "Too many requests")
		return
	}

	limit := pageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.respondError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", v), "Invalid limit")
			return
		}
		limit = n
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.respondError(w, http.StatusBadRequest, fmt.Errorf("bad offset %q", v), "Invalid offset")
			return
		}
		offset = n
	}

	// Recent messages come from the cache; a cache failure degrades to the
	// database rather than failing the poll.
	var msgs []Message
	if a.Cache != nil {
		cached, err := a.Cache.ListConversation(r.Context(), userID, partnerID)
		if err != nil {
			a.Logger.Error("Could not read cache", "error", err.Error())
		} else {
			msgs = cached
		}
	}

	msgIDs := make([]string, len(msgs))
	for i, msg := range msgs {
		msgIDs[i] = msg.ID
	}

	dbMsgs, err := a.DB.ListConversation(r.Context(), userID, partnerID, limit, offset, msgIDs...)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
		return
	}
	msgs = append(msgs, dbMsgs...)

	// The wire order is the conversation order: oldest first, id as the
	// tie-break.
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	// Fetching a conversation marks the partner's messages read.
	if err := a.DB.MarkRead(r.Context(), partnerID, userID); err != nil {
		a.Logger.Error("Could not mark messages read", "error", err.Error())
	}

	if msgs == nil {
		msgs = []Message{}
	}
	a.respond(w, http.StatusOK, response{Messages: msgs})
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Conversations []ConversationSummary `json:"conversations"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	convs, err := a.DB.ListConversations(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list conversations")
		return
	}
	if convs == nil {
		convs = []ConversationSummary{}
	}
	a.respond(w, http.StatusOK, response{Conversations: convs})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ReceiverID    string `json:"receiver_id" validate:"required"`
		Content       string `json:"content"`
		Type          string `json:"type" validate:"required,msgtype"`
		ReplyToID     string `json:"reply_to_id"`
		MediaDuration int    `json:"media_duration" validate:"gte=0"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	var (
		body     request
		mediaURL string
	)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Could not parse form")
			return
		}
		body.ReceiverID = r.FormValue("receiver_id")
		body.Content = r.FormValue("content")
		body.Type = r.FormValue("type")
		body.ReplyToID = r.FormValue("reply_to_id")
		if v := r.FormValue("media_duration"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				a.respondError(w, http.StatusBadRequest, err, "Invalid media duration")
				return
			}
			body.MediaDuration = n
		}
		var err error
		switch body.Type {
		case "image":
			mediaURL, err = a.saveUpload(r, "image")
		case "voice":
			mediaURL, err = a.saveUpload(r, "voice")
		}
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not store attachment")
			return
		}
	default:
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
			return
		}
		if err := r.Body.Close(); err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
			return
		}
	}

	if valid := a.validateBody(w, &body); !valid {
		return
	}

	content := strings.TrimSpace(body.Content)
	if content == "" && body.Type == "voice" {
		content = "🎤 Voice message"
	}
	if content == "" && body.Type == "text" {
		a.respondError(w, http.StatusBadRequest, errors.New("empty text message"), "Message is empty")
		return
	}

	msg, err := a.DB.InsertMessage(r.Context(), Message{
		SenderID:      userID,
		ReceiverID:    body.ReceiverID,
		Type:          body.Type,
		Content:       content,
		MediaURL:      mediaURL,
		MediaDuration: body.MediaDuration,
		ReplyToID:     body.ReplyToID,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not insert message")
		return
	}

	if a.Cache != nil {
		if err := a.Cache.InsertMessage(r.Context(), msg); err != nil {
			a.Logger.Error("Could not cache message", "error", err.Error())
		}
	}

	a.respond(w, http.StatusCreated, msg)
}

// saveUpload stores the named multipart file under MediaDir and returns
// its serving path. A missing part is not an error; the message simply has
// no attachment.
func (a *API) saveUpload(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read form file: %w", err)
	}
	defer file.Close()

	if a.MediaDir == "" {
		return "", errors.New("no media directory configured")
	}
	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".bin"
	}
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(a.MediaDir, name))
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return "/media/" + name, nil
}

func (a *API) toggleReaction(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Emoji string `json:"emoji" validate:"required"`
		}
		response struct {
			Applied bool `json:"applied"`
		}
	)

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	messageID := r.PathValue("messageID")

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Invalid request body")
		return
	}
	if valid := a.validateBody(w, &body); !valid {
		return
	}

	applied, err := a.DB.ToggleReaction(r.Context(), Reaction{
		MessageID: messageID,
		UserID:    userID,
		UserName:  r.Header.Get("X-User-Name"),
		Emoji:     body.Emoji,
		CreatedAt: time.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.respondError(w, http.StatusNotFound, err, "Message not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err, fmt.Sprintf("could not toggle reaction on message %s", messageID))
		return
	}

	a.invalidateCache(r.Context(), userID)
	a.respond(w, http.StatusOK, response{Applied: applied})
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	messageID := r.PathValue("messageID")

	err := a.DB.DeleteMessage(r.Context(), messageID, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "Message not found")
		return
	case errors.Is(err, ErrForbidden):
		a.respondError(w, http.StatusForbidden, err, "Only the sender can recall a message")
		return
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not delete message")
		return
	}

	a.invalidateCache(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteConversation(w http.ResponseWriter, r *http.Request) {
	type response struct {
		DeletedCount int `json:"deleted_count"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	partnerID := r.PathValue("partnerID")

	n, err := a.DB.DeleteConversation(r.Context(), userID, partnerID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not delete conversation")
		return
	}
	if a.Cache != nil {
		if err := a.Cache.Invalidate(r.Context(), userID, partnerID); err != nil {
			a.Logger.Error("Could not invalidate cache", "error", err.Error())
		}
	}
	a.respond(w, http.StatusOK, response{DeletedCount: n})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	type response struct {
		UnreadCount int `json:"unread_count"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}
	n, err := a.DB.CountUnread(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not count unread messages")
		return
	}
	a.respond(w, http.StatusOK, response{UnreadCount: n})
}

// invalidateCache drops the cached window after a mutation on a message.
// Message-scoped endpoints do not carry the partner id the cache key
// needs, so the whole user scope is dropped instead.
func (a *API) invalidateCache(ctx context.Context, userID string) {
	if a.Cache == nil {
		return
	}
	if err := a.Cache.Invalidate(ctx, userID, ""); err != nil {
		a.Logger.Error("Could not invalidate cache", "error", err.Error())
	}
}
