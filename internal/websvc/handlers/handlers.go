package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/avvvet/tcg-companion/internal/cards"
	"github.com/avvvet/tcg-companion/internal/comm"
	"github.com/avvvet/tcg-companion/internal/proxy"
	"github.com/avvvet/tcg-companion/internal/session"
	"github.com/avvvet/tcg-companion/internal/websvc/config"
	"github.com/avvvet/tcg-companion/internal/websvc/ws"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const maxUploadSize = 20 << 20

// Events announces new cards to the user's open sockets.
type Events interface {
	PublishCardCreated(userId string, ev comm.CardCreated) error
}

type Handler struct {
	cfg      config.Config
	sessions *session.Provider
	proxy    *proxy.Proxy
	ws       *ws.Ws
	events   Events
	orphans  cards.OrphanRecorder
	upgrader websocket.Upgrader
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

// NewHandler wires the web service. orphans may be nil, then failed uploads
// are only logged.
func NewHandler(cfg config.Config, sessions *session.Provider, s *ws.Ws, events Events, orphans cards.OrphanRecorder) *Handler {
	h := &Handler{
		cfg:      cfg,
		sessions: sessions,
		proxy:    proxy.New(cfg.BackendURL, sessions.Token, nil),
		ws:       s,
		events:   events,
		orphans:  orphans,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
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
		Message: "web service is running at port " + h.cfg.Port,
		Code:    http.StatusOK,
		Data:    nil,
	})
}

// UploadHandler runs the upload handshake for the multipart field "file" on
// behalf of the signed-in user.
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	sub, raw, err := h.sessions.Subject(r)
	if err != nil {
		h.CreateResponse(w, Response{Message: "unauthorized", Code: http.StatusUnauthorized, Error: err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.CreateResponse(w, Response{Message: "upload too large", Code: http.StatusRequestEntityTooLarge, Error: err.Error()})
			return
		}
		h.CreateResponse(w, Response{Message: "invalid upload", Code: http.StatusBadRequest, Error: err.Error()})
		return
	}
	defer file.Close()

	contentType, err := detectContentType(file, header)
	if err != nil {
		h.CreateResponse(w, Response{Message: "invalid upload", Code: http.StatusBadRequest, Error: err.Error()})
		return
	}

	client := cards.NewClient(h.cfg.BackendURL, oauth2.NewClient(r.Context(), h.sessions.TokenSource(sub, raw)), nil)
	uploader := cards.NewUploader(client, h.orphans)

	card, err := uploader.Upload(r.Context(), cards.File{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	}, sub)
	if err != nil {
		code, step := uploadFailure(err)
		h.CreateResponse(w, Response{Message: step, Code: code, Error: err.Error()})
		return
	}

	if card == nil {
		h.CreateResponse(w, Response{Message: "upload accepted", Code: http.StatusAccepted})
		return
	}

	if err := h.events.PublishCardCreated(sub, comm.CardCreated{CardId: card.ID, ImagePath: card.ImagePath}); err != nil {
		log.Errorf("unable to publish card-created for %s: %s", card.ID, err)
	}
	h.CreateResponse(w, Response{Message: "card created", Code: http.StatusCreated, Data: card})
}

// detectContentType trusts the part header unless it is missing or generic,
// then sniffs the first bytes.
func detectContentType(file multipart.File, header *multipart.FileHeader) (string, error) {
	ct := header.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		return ct, nil
	}

	buf := make([]byte, 512)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

func uploadFailure(err error) (int, string) {
	switch {
	case errors.Is(err, cards.ErrNotImage), errors.Is(err, cards.ErrEmptyFile):
		return http.StatusBadRequest, "invalid upload"
	case errors.Is(err, cards.ErrUploadURL):
		return http.StatusBadGateway, "upload-url"
	case errors.Is(err, cards.ErrStorageWrite):
		return http.StatusBadGateway, "put-object"
	case errors.Is(err, cards.ErrCreateCard):
		return http.StatusBadGateway, "create-card"
	default:
		return http.StatusBadGateway, "upload failed"
	}
}

// HandleWebSocket upgrades the request and starts the user's live view.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, raw, err := h.sessions.Subject(r)
	if err != nil {
		h.CreateResponse(w, Response{Message: "unauthorized", Code: http.StatusUnauthorized, Error: err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already answered the client
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	socketId := uuid.New().String()
	h.ws.Open(socketId, sub, h.sessions.TokenSource(sub, raw), conn)

	log.Infof("New WebSocket connection established: %s", socketId)

	// Handle WebSocket connection
	go h.handleConnection(conn, socketId)
}

func (h *Handler) handleConnection(conn *websocket.Conn, socketId string) {
	// Ensure cleanup happens when connection closes
	defer func() {
		log.Infof("Closing WebSocket connection: %s", socketId)
		h.ws.HandleDisconnect(socketId)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Check if it's a normal close or unexpected error
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("WebSocket unexpected close error for socket %s: %v", socketId, err)
			} else {
				log.Infof("WebSocket connection closed normally for socket: %s", socketId)
			}
			break
		}

		// Parse the message
		message := &comm.WSMessage{}
		if err := json.Unmarshal(raw, message); err != nil {
			log.Errorf("Failed to unmarshal message from socket %s: %v", socketId, err)
			if socket, ok := h.ws.GetConnection(socketId); ok {
				socket.SendError("Invalid message format")
			}
			continue // Don't break, just skip this message
		}

		log.Debugf("Received message from socket %s: type=%s", socketId, message.Type)

		h.ws.SocketMessage(socketId, message)
	}
}
