package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/avvvet/tcg-companion/internal/cards"
	"github.com/avvvet/tcg-companion/internal/comm"
	"github.com/avvvet/tcg-companion/internal/livesync"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const writeWait = 10 * time.Second

var ErrNotConfirmed = errors.New("deletion not confirmed")

type Ws struct {
	connMap sync.Map // to keep track of socket connection with socketId

	backendURL   string
	loadingDelay time.Duration
}

func NewWs(backendURL string, loadingDelay time.Duration) *Ws {
	return &Ws{backendURL: backendURL, loadingDelay: loadingDelay}
}

// Open registers conn for userId and starts its live card view. Requests
// made for the socket authenticate with tokens.
func (s *Ws) Open(socketId, userId string, tokens oauth2.TokenSource, conn *websocket.Conn) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	client := oauth2.NewClient(ctx, tokens)

	socket := &Socket{
		Id:     socketId,
		UserId: userId,
		conn:   conn,
		cancel: cancel,
		cards:  cards.NewClient(s.backendURL, client, nil),
		live:   livesync.NewCardSync(s.backendURL, client),
		delay:  s.loadingDelay,
	}
	s.connMap.Store(socketId, socket)

	go socket.watch(ctx)
	return socket
}

// handle socket message from web clients
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	socket, ok := s.GetConnection(socketId)
	if !ok {
		log.Warnf("message for unknown socket %s", socketId)
		return
	}

	switch message.Type {
	case comm.TypeDeleteCard:
		s.handleDeleteCard(socket, message)
	default:
		log.Warnf("unknown event received: %s", message.Type)
		socket.SendError("unknown message type " + message.Type)
	}
}

func (s *Ws) handleDeleteCard(socket *Socket, msg *comm.WSMessage) {
	var payload comm.DeleteCard
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Errorf("Error: invalid delete-card payload from %s: %s", socket.Id, err)
		socket.SendError("invalid delete-card payload")
		return
	}

	res := comm.DeleteCardRes{Id: payload.Id}
	switch {
	case payload.Id == "":
		res.Error = "card id is required"
	case !payload.Confirm:
		res.Error = ErrNotConfirmed.Error()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := socket.cards.DeleteCard(ctx, payload.Id); err != nil {
			log.WithFields(log.Fields{"socket": socket.Id, "card": payload.Id}).Errorf("delete failed: %s", err)
			res.Error = err.Error()
		} else {
			res.Status = true
			log.WithFields(log.Fields{"socket": socket.Id, "card": payload.Id}).Info("card deleted")
		}
	}

	if err := socket.SendPayload(comm.TypeDeleteCardResponse, res); err != nil {
		log.Errorf("unable to answer delete-card on %s: %s", socket.Id, err)
	}
}

func (s *Ws) GetConnection(socketId string) (*Socket, bool) {
	socket, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return socket.(*Socket), true
}

func (s *Ws) GetUserSockets(userId string) []*Socket {
	var sockets []*Socket
	s.connMap.Range(func(key, value any) bool {
		if socket := value.(*Socket); socket.UserId == userId {
			sockets = append(sockets, socket)
		}
		return true // continue iterating
	})
	return sockets
}

// SendToUser writes m to every socket of userId on this instance and
// reports how many sockets received it.
func (s *Ws) SendToUser(userId string, m *comm.WSMessage) int {
	sent := 0
	for _, socket := range s.GetUserSockets(userId) {
		if err := socket.Send(m); err != nil {
			log.Errorf("unable to send %s to socket %s: %s", m.Type, socket.Id, err)
			continue
		}
		sent++
	}
	return sent
}

// PublishCardCreated delivers a card-created event to the user's sockets on
// this instance only. It stands in for the broker when NATS is disabled.
func (s *Ws) PublishCardCreated(userId string, ev comm.CardCreated) error {
	msg, err := comm.NewMessage(comm.TypeCardCreated, ev)
	if err != nil {
		return err
	}
	msg.UserId = userId
	s.SendToUser(userId, msg)
	return nil
}

// HandleDisconnect stops the socket's sync and forgets it.
func (s *Ws) HandleDisconnect(socketId string) {
	if socket, ok := s.connMap.LoadAndDelete(socketId); ok {
		socket.(*Socket).cancel()
	}
}

// CloseAll disconnects every socket, used on shutdown.
func (s *Ws) CloseAll() {
	s.connMap.Range(func(key, value any) bool {
		socket := value.(*Socket)
		socket.cancel()
		socket.mu.Lock()
		socket.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		socket.mu.Unlock()
		socket.conn.Close()
		return true
	})
}
