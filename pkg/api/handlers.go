package api

import (
	"net/http"
	"time"

	"github.com/rubiojr/pulse/pkg/chat"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/version"
)

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Version:     version.APIVersion(),
		Connections: s.registry.Size(),
	}

	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) HandleChatTest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Chat API is working!"})
}

// HandleSend sends a message whose sender is named in the body.
func (s *Server) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	msg, err := s.chat.Send(r.Context(), req, chat.SendOptions{EchoToSender: s.echo.Load()})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

// HandleSendAuthenticated sends as the caller.
func (s *Server) HandleSendAuthenticated(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req chat.AuthenticatedSendRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	msg, err := s.chat.SendAuthenticated(r.Context(), user, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) HandleMyChatHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.writeChatHistory(w, r, user)
}

func (s *Server) HandleChatHistory(w http.ResponseWriter, r *http.Request) {
	s.writeChatHistory(w, r, core.UserID(r.PathValue("userId")))
}

func (s *Server) writeChatHistory(w http.ResponseWriter, r *http.Request, user core.UserID) {
	history, err := s.chat.ChatHistory(r.Context(), user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) HandleUnreadMessageCount(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	n, err := s.chat.UnreadMessageCount(r.Context(), user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UnreadCountResponse{UnreadCount: n})
}

// HandleConversation returns the messages between two users, oldest first.
func (s *Server) HandleConversation(w http.ResponseWriter, r *http.Request) {
	sender := core.UserID(r.PathValue("senderId"))
	receiver := core.UserID(r.PathValue("receiverId"))

	msgs, err := s.chat.History(r.Context(), sender, receiver)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	sender := core.UserID(r.PathValue("senderId"))
	receiver := core.UserID(r.PathValue("receiverId"))

	n, err := s.chat.MarkRead(r.Context(), sender, receiver)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UpdatedResponse{Message: "Messages marked as read", Updated: n})
}

func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	list, err := s.chat.ListNotifications(r.Context(), user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) HandleNotificationUnreadCount(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	n, err := s.chat.UnreadNotificationCount(r.Context(), user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UnreadCountResponse{UnreadCount: n})
}

func (s *Server) HandleMarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	n, err := s.chat.MarkAllRead(r.Context(), user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UpdatedResponse{Message: "Notifications marked as read", Updated: n})
}

// HandleCreateNotification records a notification from the caller and
// pushes it to the receiver.
func (s *Server) HandleCreateNotification(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req CreateNotificationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	n, err := s.chat.Notify(r.Context(), chat.NotifyRequest{
		Sender:   user,
		Receiver: req.ReceiverID,
		Type:     req.Type,
		Content:  req.Content,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, n)
}

// HandlePostLiked broadcasts a post's updated likes to the listed rooms.
func (s *Server) HandlePostLiked(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	var req PostLikedRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	n, err := s.chat.NotifyPostLiked(r.Context(), req.Rooms, r.PathValue("postId"), req.UpdatedLikes)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, DeliveredResponse{Delivered: n})
}

// HandleSearchUsers matches usernames by substring, ignoring case. A missing
// username parameter yields an empty list.
func (s *Server) HandleSearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.chat.SearchUsers(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}
