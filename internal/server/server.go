package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"ripple-messenger/internal/realtime"
	"ripple-messenger/internal/storage"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger     *zap.SugaredLogger
	httpServer *http.Server
	h          handler
}

// NewServer wires the store and the realtime hub into an HTTP server serving
// the JSON API plus the websocket endpoint
func NewServer(logger *zap.SugaredLogger, store *storage.Store, hub *realtime.Hub, opts ...Option) (*Server, error) {
	srv := &Server{
		logger: logger,
		h: handler{
			logger: logger,
			store:  store,
			hub:    hub,
			parsers: parsers{
				usersPool:         fastjson.ParserPool{},
				friendsPool:       fastjson.ParserPool{},
				conversationsPool: fastjson.ParserPool{},
				messagesPool:      fastjson.ParserPool{},
			},
		},
	}

	c := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:9000"},
		handlers: map[string]http.Handler{
			"/users/upsert":  http.HandlerFunc(srv.h.upsertUser),
			"/users/status":  http.HandlerFunc(srv.h.updateStatus),
			"/users/profile": http.HandlerFunc(srv.h.updateProfile),
			"/users/search":  http.HandlerFunc(srv.h.searchUsers),
			"/users/get":     http.HandlerFunc(srv.h.getUser),

			"/friends/request":  http.HandlerFunc(srv.h.sendFriendRequest),
			"/friends/respond":  http.HandlerFunc(srv.h.respondToFriendRequest),
			"/friends/requests": http.HandlerFunc(srv.h.pendingFriendRequests),
			"/friends/list":     http.HandlerFunc(srv.h.listFriends),
			"/friends/remove":   http.HandlerFunc(srv.h.removeFriend),

			"/conversations/create":      http.HandlerFunc(srv.h.createConversation),
			"/conversations/list":        http.HandlerFunc(srv.h.listConversations),
			"/conversations/get":         http.HandlerFunc(srv.h.getConversation),
			"/conversations/members/add": http.HandlerFunc(srv.h.addMembers),
			"/conversations/leave":       http.HandlerFunc(srv.h.leaveConversation),

			"/messages/send":    http.HandlerFunc(srv.h.sendMessage),
			"/messages/get":     http.HandlerFunc(srv.h.getMessages),
			"/messages/edit":    http.HandlerFunc(srv.h.editMessage),
			"/messages/delete":  http.HandlerFunc(srv.h.deleteMessage),
			"/messages/forward": http.HandlerFunc(srv.h.forwardMessage),
			"/messages/react":   http.HandlerFunc(srv.h.toggleReaction),
			"/messages/read":    http.HandlerFunc(srv.h.markRead),

			"/typing/set": http.HandlerFunc(srv.h.setTyping),
			"/typing/get": http.HandlerFunc(srv.h.getTyping),

			"/notifications/unread": http.HandlerFunc(srv.h.unreadNotifications),
		},
		ws: http.HandlerFunc(srv.h.serveWS),
	}

	opts = append(opts,
		applyEnforcePostJson(),
		applyAuthenticate(),
		applyLog(logger.Desugar()),
		registerHandlers(),
	)
	for _, opt := range opts {
		opt.apply(c)
	}

	srv.httpServer = c.httpServer

	return srv, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	s.logger.Info("Closing store")
	s.h.store.Close()
	s.logger.Info("Store is closed")

	return nil
}
