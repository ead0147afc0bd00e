package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/teamchat/realtime/internal/auth"
	"github.com/teamchat/realtime/internal/realtime"
	"github.com/teamchat/realtime/internal/server/middleware"
	"github.com/teamchat/realtime/internal/store"
)

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (a *App) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- auth ---

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.authSvc.Register(r.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, store.ErrDuplicate) {
		a.writeError(w, http.StatusBadRequest, "Username already exists")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := a.authSvc.IssueToken(user)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.setSessionCookie(w, token, 0)
	a.writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, err := a.authSvc.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		a.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.setSessionCookie(w, token, 0)
	a.writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.setSessionCookie(w, "", -1)
	a.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	user, err := a.store.GetUserByID(r.Context(), meta.UserID)
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"})
}

// --- channels ---

func (a *App) handleListChannels(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	channels, err := a.store.ListChannelsFor(r.Context(), meta.UserID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

type createChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
}

func (a *App) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		a.writeError(w, http.StatusBadRequest, "Channel name is required")
		return
	}

	ch, err := a.store.CreateChannel(r.Context(), req.Name, req.Description, req.IsPrivate, meta.UserID)
	if errors.Is(err, store.ErrDuplicate) {
		a.writeError(w, http.StatusBadRequest, "Channel name already exists")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.dispatcher.ChannelCreated(ch)
	a.writeJSON(w, http.StatusCreated, map[string]any{"channel": ch})
}

func (a *App) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	ch, err := a.store.GetChannel(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ch.AccessibleTo(meta.UserID) {
		a.writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"channel": ch})
}

func (a *App) handleJoinChannel(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	channelID := mux.Vars(r)["id"]

	ch, err := a.store.GetChannel(r.Context(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if ch.HasMember(meta.UserID) {
		a.writeError(w, http.StatusBadRequest, "Already a member of this channel")
		return
	}
	if !ch.AccessibleTo(meta.UserID) {
		a.writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	if _, err := a.store.AddMember(r.Context(), channelID, meta.UserID); err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	updated, err := a.store.GetChannel(r.Context(), channelID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.dispatcher.MembershipChanged(updated, meta.UserID, meta.Username, true)
	a.writeJSON(w, http.StatusOK, map[string]any{"channel": updated})
}

func (a *App) handleLeaveChannel(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	channelID := mux.Vars(r)["id"]

	ch, err := a.store.GetChannel(r.Context(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ch.HasMember(meta.UserID) {
		a.writeError(w, http.StatusBadRequest, "Not a member of this channel")
		return
	}
	if ch.CreatedBy == meta.UserID && len(ch.Members) == 1 {
		a.writeError(w, http.StatusBadRequest, "Cannot leave channel as the creator. Delete the channel instead.")
		return
	}

	if _, err := a.store.RemoveMember(r.Context(), channelID, meta.UserID); err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	updated, err := a.store.GetChannel(r.Context(), channelID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	a.dispatcher.MembershipChanged(updated, meta.UserID, meta.Username, false)
	a.writeJSON(w, http.StatusOK, map[string]string{"message": "Left channel successfully"})
}

// --- messages ---

// channelForAccess loads a channel and applies the access rule for the
// requesting user. Touching a public channel the user is not yet a
// member of auto-adds them and announces it, matching the original
// behavior.
func (a *App) channelForAccess(ctx context.Context, channelID, userID, username string) (*realtime.Channel, error) {
	ch, err := a.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.HasMember(userID) {
		return ch, nil
	}
	if ch.IsPrivate {
		return nil, realtime.ErrAccessDenied
	}

	added, err := a.store.AddMember(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if added {
		updated, err := a.store.GetChannel(ctx, channelID)
		if err != nil {
			return nil, err
		}
		a.dispatcher.MemberAdded(updated, userID, username)
		return updated, nil
	}
	return ch, nil
}

func (a *App) writeAccessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, "Channel not found")
	case errors.Is(err, realtime.ErrAccessDenied):
		a.writeError(w, http.StatusForbidden, "Access denied")
	default:
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func (a *App) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	channelID := r.URL.Query().Get("channelId")
	if channelID == "" {
		a.writeError(w, http.StatusBadRequest, "Channel ID is required")
		return
	}

	if _, err := a.channelForAccess(r.Context(), channelID, meta.UserID, meta.Username); err != nil {
		a.writeAccessError(w, err)
		return
	}

	messages, page, err := a.store.ListMessages(r.Context(), channelID, queryInt(r, "page", 1), queryInt(r, "limit", 50))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "pagination": page})
}

type createMessageRequest struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

func (a *App) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChannelID == "" {
		a.writeError(w, http.StatusBadRequest, "Channel ID is required")
		return
	}
	if req.Content == "" {
		a.writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}

	if _, err := a.channelForAccess(r.Context(), req.ChannelID, meta.UserID, meta.Username); err != nil {
		a.writeAccessError(w, err)
		return
	}

	msg, err := a.store.CreateMessage(r.Context(), req.ChannelID, meta.UserID, meta.Username, req.Content)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

type updateMessageRequest struct {
	Content string `json:"content"`
}

func (a *App) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	var req updateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		a.writeError(w, http.StatusBadRequest, "Content is required")
		return
	}

	msg, err := a.store.GetMessage(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if msg.UserID != meta.UserID {
		a.writeError(w, http.StatusForbidden, "You can only edit your own messages")
		return
	}
	if msg.Deleted {
		a.writeError(w, http.StatusBadRequest, "Cannot edit a deleted message")
		return
	}

	updated, err := a.store.UpdateMessage(r.Context(), msg.ID, req.Content)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"message": updated})
}

func (a *App) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())

	msg, err := a.store.GetMessage(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if msg.UserID != meta.UserID {
		a.writeError(w, http.StatusForbidden, "You can only delete your own messages")
		return
	}

	if err := a.store.SoftDeleteMessage(r.Context(), msg.ID); err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"message": "Message deleted successfully"})
}

func (a *App) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	channelID := r.URL.Query().Get("channelId")
	query := r.URL.Query().Get("query")
	if channelID == "" {
		a.writeError(w, http.StatusBadRequest, "Channel ID is required")
		return
	}
	if query == "" {
		a.writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}

	if _, err := a.channelForAccess(r.Context(), channelID, meta.UserID, meta.Username); err != nil {
		a.writeAccessError(w, err)
		return
	}

	messages, page, err := a.store.SearchMessages(r.Context(), channelID, query, queryInt(r, "page", 1), queryInt(r, "limit", 50))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "pagination": page})
}
