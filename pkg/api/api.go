// Package api is the REST bridge in front of the realtime layer. It covers
// the request/response plumbing that does not need a socket: account
// registration, login, conversation management and message history. Writes
// that affect connected users push a realtime event through the injected
// Notifier.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mkarlsson/chatrelay/pkg/auth"
	"github.com/mkarlsson/chatrelay/pkg/datastore"
	"github.com/mkarlsson/chatrelay/pkg/model"
	"github.com/mkarlsson/chatrelay/pkg/protocol"
)

// API holds the REST handler dependencies.
type API struct {
	store    datastore.DataProviderFactory
	auth     *auth.Service
	notifier Notifier
}

// Notifier is the realtime push surface the API needs. The server's
// Notifier satisfies it; tests use a recording fake.
type Notifier interface {
	NotifyUser(userID int64, event string, payload any) bool
	IsUserOnline(userID int64) bool
}

// New creates the REST API.
func New(store datastore.DataProviderFactory, authsvc *auth.Service, notifier Notifier) *API {
	return &API{store: store, auth: authsvc, notifier: notifier}
}

// Handler returns the API route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", a.handleRegister)
	mux.HandleFunc("POST /api/login", a.handleLogin)
	mux.HandleFunc("GET /api/me", a.authed(a.handleMe))
	mux.HandleFunc("GET /api/users", a.authed(a.handleListUsers))
	mux.HandleFunc("GET /api/conversations", a.authed(a.handleListConversations))
	mux.HandleFunc("POST /api/conversations", a.authed(a.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations/{id}/messages", a.authed(a.handleListMessages))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// authed wraps a handler with bearer-token authentication.
func (a *API) authed(fn func(w http.ResponseWriter, r *http.Request, user *model.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeError(w, http.StatusUnauthorized, model.ErrUnauthenticated.Error())
			return
		}
		user, err := a.auth.Verify(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			if errors.Is(err, model.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			slog.Error("token verification failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		fn(w, r, user)
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type userResponse struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	About        string `json:"about,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
	IsOnline     bool   `json:"isOnline"`
}

func toUserResponse(u *model.User, online bool) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		About:        u.About,
		ProfileImage: u.ProfileImage,
		IsOnline:     online,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	user, err := a.auth.Register(req.Email, req.Name, req.Password)
	if err != nil {
		// Validation failures and duplicate emails both land here; the
		// message is safe to echo.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user, false))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, user, err := a.auth.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidLogin) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		slog.Error("login failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User:  toUserResponse(user, a.notifier.IsUserOnline(user.ID)),
	})
}

func (a *API) handleMe(w http.ResponseWriter, _ *http.Request, user *model.User) {
	writeJSON(w, http.StatusOK, toUserResponse(user, a.notifier.IsUserOnline(user.ID)))
}

func (a *API) handleListUsers(w http.ResponseWriter, _ *http.Request, _ *model.User) {
	users, err := a.store.NonTx().ListUsers()
	if err != nil {
		slog.Error("list users failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		u := &users[i]
		out = append(out, toUserResponse(u, a.notifier.IsUserOnline(u.ID)))
	}
	writeJSON(w, http.StatusOK, out)
}

type conversationResponse struct {
	ID           int64   `json:"id"`
	Participants []int64 `json:"participants"`
	IsGroup      bool    `json:"isGroup"`
	GroupName    string  `json:"groupName,omitempty"`
	OnlineCount  int     `json:"onlineCount"`
}

func (a *API) toConversationResponse(c *model.Conversation) conversationResponse {
	online := 0
	for _, uid := range c.Participants {
		if a.notifier.IsUserOnline(uid) {
			online++
		}
	}
	return conversationResponse{
		ID:           c.ID,
		Participants: c.Participants,
		IsGroup:      c.IsGroup,
		GroupName:    c.GroupName,
		OnlineCount:  online,
	}
}

func (a *API) handleListConversations(w http.ResponseWriter, _ *http.Request, user *model.User) {
	conversations, err := a.store.NonTx().ListConversationsByParticipant(user.ID)
	if err != nil {
		slog.Error("list conversations failed", "user", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]conversationResponse, 0, len(conversations))
	for i := range conversations {
		out = append(out, a.toConversationResponse(&conversations[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type createConversationRequest struct {
	Participants []int64 `json:"participants"`
	GroupName    string  `json:"groupName,omitempty"`
}

func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request, user *model.User) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	// The creator is always a participant.
	participants := req.Participants
	hasCreator := false
	for _, uid := range participants {
		if uid == user.ID {
			hasCreator = true
			break
		}
	}
	if !hasCreator {
		participants = append(participants, user.ID)
	}

	conv := &model.Conversation{
		Participants: participants,
		IsGroup:      req.GroupName != "",
		GroupName:    req.GroupName,
	}
	if conv.IsGroup {
		conv.GroupAdmin = user.ID
	}
	if err := a.store.NonTx().CreateConversation(conv); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Push the new conversation to every other connected participant.
	resp := a.toConversationResponse(conv)
	for _, uid := range conv.OtherParticipants(user.ID) {
		a.notifier.NotifyUser(uid, protocol.EventNewConversation, resp)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request, user *model.User) {
	conversationID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := a.store.NonTx().GetConversation(conversationID)
	if err != nil {
		slog.Error("load conversation failed", "conversation", conversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, model.ErrRoomNotFound.Error())
		return
	}
	if !conv.HasParticipant(user.ID) {
		writeError(w, http.StatusForbidden, model.ErrNotAuthorized.Error())
		return
	}

	filters := model.MessageFilters{LimitToConversationID: &conversationID}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil && limit > 0 {
			filters.PageSize = &limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.ParseInt(v, 10, 64); err == nil && offset >= 0 {
			filters.Offset = &offset
		}
	}

	messages, err := a.store.NonTx().ListMessages(filters)
	if err != nil {
		slog.Error("list messages failed", "conversation", conversationID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
