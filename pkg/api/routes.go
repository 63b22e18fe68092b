package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.HandleHealth)

	// Chat
	mux.HandleFunc("GET /api/v1/chat/test", s.HandleChatTest)
	mux.HandleFunc("POST /api/v1/chat", s.HandleSend)
	mux.HandleFunc("POST /api/v1/chat/send", s.HandleSendAuthenticated)
	mux.HandleFunc("GET /api/v1/chat/history", s.HandleMyChatHistory)
	mux.HandleFunc("GET /api/v1/chat/history/{userId}", s.HandleChatHistory)
	mux.HandleFunc("GET /api/v1/chat/unread-count", s.HandleUnreadMessageCount)
	mux.HandleFunc("GET /api/v1/chat/{senderId}/{receiverId}", s.HandleConversation)
	mux.HandleFunc("PUT /api/v1/chat/mark-read/{senderId}/{receiverId}", s.HandleMarkRead)

	// Notifications
	mux.HandleFunc("GET /api/v1/notifications", s.HandleListNotifications)
	mux.HandleFunc("GET /api/v1/notifications/unread-count", s.HandleNotificationUnreadCount)
	mux.HandleFunc("POST /api/v1/notifications", s.HandleCreateNotification)
	mux.HandleFunc("PUT /api/v1/notifications/mark-read", s.HandleMarkNotificationsRead)

	// Posts
	mux.HandleFunc("POST /api/v1/posts/{postId}/liked", s.HandlePostLiked)

	// Users
	mux.HandleFunc("GET /api/v1/user/search", s.HandleSearchUsers)

	// Realtime
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
}
