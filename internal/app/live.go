package app

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"verse/api/internal/monitoring"
	"verse/api/internal/posts"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
)

// handleFeedLive streams feed snapshots over a websocket. Each message
// is the full normalized post list, newest first, sent once on connect
// and again after every store change. A client that cannot keep up has
// pending snapshots collapsed to the latest one.
func (s *HTTPServer) handleFeedLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("live feed upgrade failed")
		return
	}

	monitoring.LiveFeedClients.Inc()
	defer monitoring.LiveFeedClients.Dec()

	updates := make(chan []posts.Post, 1)
	push := func(list []posts.Post) {
		for {
			select {
			case updates <- list:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	}

	push(s.service.FeedPosts())
	stop := s.service.ListenFeed(push)
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case list := <-updates:
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(map[string]any{"posts": list}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
