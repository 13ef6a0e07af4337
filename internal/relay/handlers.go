package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/comm"
	"github.com/avvvet/wheel-services/internal/store"
)

type Handler struct {
	upgrader websocket.Upgrader
	ws       *Ws
	port     string
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func NewHandler(s *Ws, port string) *Handler {
	h := &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ws:   s,
		port: port,
	}
	return h
}

// HandleWebSocket upgrades the request and serves room requests on it until
// the client goes away.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	socketId := uuid.New().String()
	h.ws.StoreConnection(socketId, conn)

	log.Infof("New WebSocket connection established: %s", socketId)

	go h.handleConnection(conn, socketId)
}

func (h *Handler) handleConnection(conn *websocket.Conn, socketId string) {
	ctx, cancel := context.WithCancel(context.Background())

	// Ensure cleanup happens when connection closes
	defer func() {
		log.Infof("Closing WebSocket connection: %s", socketId)
		cancel()
		conn.Close()
		h.ws.HandleDisconnect(socketId)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("WebSocket unexpected close error for socket %s: %v", socketId, err)
			} else {
				log.Infof("WebSocket connection closed normally for socket: %s", socketId)
			}
			break
		}

		message := &comm.WSMessage{}
		if err := json.Unmarshal(raw, message); err != nil {
			log.Errorf("Failed to unmarshal message from socket %s: %v", socketId, err)
			h.sendErrorToClient(socketId, "Invalid message format")
			continue
		}

		log.Debugf("Received message from socket %s: type=%s", socketId, message.Type)

		h.ws.SocketMessage(ctx, socketId, message)
	}
}

// sendErrorToClient sends an error message back to the WebSocket client
func (h *Handler) sendErrorToClient(socketId, errorMsg string) {
	c, ok := h.ws.getClient(socketId)
	if !ok {
		return
	}
	if err := c.send(&comm.WSMessage{Type: "error", Error: errorMsg}); err != nil {
		log.Errorf("Failed to send error message to client: %v", err)
	}
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "room service is running at port " + h.port,
		Code:    http.StatusOK,
		Data: map[string]int{
			"rooms":   len(h.ws.hub.Codes()),
			"sockets": h.ws.Count(),
		},
	})
}

// RoomHandler returns a room snapshot, for overlays that do not hold a socket.
func (h *Handler) RoomHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	snapshot, err := h.ws.hub.Get(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		h.CreateResponse(w, Response{Message: "room not found", Code: http.StatusNotFound, Error: comm.ErrCodeNotFound})
		return
	}
	if err != nil {
		log.WithField("room", code).Errorf("failed to read room: %v", err)
		h.CreateResponse(w, Response{Message: "failed to read room", Code: http.StatusInternalServerError, Error: comm.ErrCodeInternal})
		return
	}

	h.CreateResponse(w, Response{Message: "ok", Code: http.StatusOK, Data: snapshot})
}
