package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/shellcache/internal/agent"
	"github.com/GriffinCanCode/shellcache/internal/host"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shellcache/internal/shared/id"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// Frame types sent by the server
const (
	TypeConnected = "CONNECTED"
	TypeVersion   = "VERSION"
	TypeError     = "ERROR"
	TypePong      = "PONG"
	typePing      = "PING"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Host is the part of host.Host the websocket channel drives
type Host interface {
	AddClient(client host.Client) id.ClientID
	RemoveClient(clientID id.ClientID)
	Controller(clientID id.ClientID) string
	Message(ctx context.Context, msg types.Message, port agent.Port) error
}

// Handler manages websocket connections
type Handler struct {
	host   Host
	logger *logging.Logger
}

// NewHandler creates a new websocket handler
func NewHandler(h Host, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{host: h, logger: logger.Named("ws")}
}

// conn serialises writes; gorilla allows one concurrent writer
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) Send(msg types.WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

// PostMessage answers a message on the socket it arrived on
func (c *conn) PostMessage(reply types.Reply) error {
	return c.Send(types.WSMessage{Type: TypeVersion, Version: reply.Version})
}

// HandleConnection handles websocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	client := &conn{ws: ws}
	clientID := h.host.AddClient(client)
	defer h.host.RemoveClient(clientID)

	log := h.logger.With(zap.String("client", clientID.String()))
	log.Debug("Client connected")

	ctx := c.Request.Context()

	if err := client.Send(types.WSMessage{
		Type:    TypeConnected,
		Version: h.host.Controller(clientID),
		Message: clientID.String(),
	}); err != nil {
		return
	}

	for {
		var msg types.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "":
			h.sendError(client, "message type is required")
		case typePing:
			_ = client.Send(types.WSMessage{Type: TypePong})
		default:
			if err := h.host.Message(ctx, msg, client); err != nil {
				h.sendError(client, err.Error())
			}
		}
	}
}

func (h *Handler) sendError(client *conn, msg string) {
	if err := client.Send(types.WSMessage{Type: TypeError, Message: msg}); err != nil {
		h.logger.Debug("Failed to send error frame", zap.Error(err))
	}
}
