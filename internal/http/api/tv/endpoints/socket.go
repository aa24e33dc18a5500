package endpoints

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/device"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api/tv/packets"
)

const (
	socketWriteWait    = 10 * time.Second
	socketPongWait     = 60 * time.Second
	socketPingInterval = (socketPongWait * 9) / 10
)

// Device state (sync progress, connectivity) is pushed at least this often.
const socketStateInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	// the renderer is served from the same device, usually as file:// or localhost
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SocketModule streams session views to the renderer over /ws.
func SocketModule(session *device.Session) api.Module {
	return api.ModuleFunc(func(c *api.Controller) {
		c.Raw(http.MethodGet, "/ws", func(ctx *gin.Context) {
			serveSocket(ctx, session)
		})
	})
}

func serveSocket(ctx *gin.Context, session *device.Session) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	reqCtx, cancel := context.WithCancel(ctx.Request.Context())
	defer cancel()

	snaps, unsubscribe := session.Player.Subscribe()
	defer unsubscribe()

	go readSocket(reqCtx, cancel, conn, session)

	ping := time.NewTicker(socketPingInterval)
	defer ping.Stop()
	state := time.NewTicker(socketStateInterval)
	defer state.Stop()

	log.Debug().Str("remote", ctx.Request.RemoteAddr).Msg("renderer connected")
	for {
		var err error
		select {
		case <-reqCtx.Done():
			return
		case _, ok := <-snaps:
			if !ok {
				return
			}
			err = writeView(conn, session.Snapshot(reqCtx))
		case <-state.C:
			err = writeView(conn, session.Snapshot(reqCtx))
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			log.Debug().Err(err).Msg("renderer disconnected")
			return
		}
	}
}

func writeView(conn *websocket.Conn, v device.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(v)
}

// readSocket handles renderer messages until the connection closes.
func readSocket(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *device.Session) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})
	for {
		var msg packets.SocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
		switch msg.Type {
		case "media_ended":
			session.Player.MediaEnded(msg.ItemID)
		case "sync":
			session.TriggerSync()
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring renderer message")
		}
		if ctx.Err() != nil {
			return
		}
	}
}
