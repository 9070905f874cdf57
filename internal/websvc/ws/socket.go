package ws

import (
	"context"
	"sync"
	"time"

	"github.com/avvvet/tcg-companion/internal/cards"
	"github.com/avvvet/tcg-companion/internal/comm"
	"github.com/avvvet/tcg-companion/internal/livesync"
	"github.com/avvvet/tcg-companion/internal/models"
	"github.com/avvvet/tcg-companion/internal/view"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Socket is one connected web client and the live view behind it.
type Socket struct {
	Id     string
	UserId string

	mu     sync.Mutex // gorilla connections allow a single writer
	conn   *websocket.Conn
	cancel context.CancelFunc

	cards *cards.Client
	live  *livesync.CardSync
	delay time.Duration
}

func (s *Socket) Send(m *comm.WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(m)
}

func (s *Socket) SendPayload(msgType string, payload any) error {
	m, err := comm.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	m.SocketId = s.Id
	return s.Send(m)
}

// SendError sends an error message back to the WebSocket client
func (s *Socket) SendError(errorMsg string) {
	if err := s.SendPayload(comm.TypeError, map[string]string{"error": errorMsg}); err != nil {
		log.Errorf("Failed to send error message to client: %v", err)
	}
}

// watch runs the card sync and pushes a view-state message whenever the
// view changes. A sync error is final: the socket keeps showing it until
// the client reconnects.
func (s *Socket) watch(ctx context.Context) {
	changes, unsubscribe := s.live.Subscribe()
	defer unsubscribe()

	loading := view.NewDelayedLoading(s.delay, func(visible bool) {
		if visible {
			s.sendState(view.StateLoading, nil, nil)
		}
	})
	defer loading.Stop()
	loading.Set(true)

	syncErr := make(chan error, 1)
	go func() { syncErr <- s.live.Run(ctx) }()

	var failed error
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-syncErr:
			syncErr = nil
			if err == nil {
				continue
			}
			failed = err
			loading.Set(false)
			log.WithField("socket", s.Id).Errorf("card sync stopped: %s", err)
			s.sendState(view.StateError, err, nil)
		case <-changes:
			if failed != nil {
				continue
			}
			if !s.live.Ready() {
				loading.Set(true)
				continue
			}
			loading.Set(false)
			items := s.live.View()
			s.sendState(view.Resolve(false, nil, len(items)), nil, items)
		}
	}
}

func (s *Socket) sendState(state view.State, err error, items []models.CardView) {
	vs := comm.ViewState{State: string(state)}
	switch state {
	case view.StateError:
		vs.Error = err.Error()
	case view.StatePopulated:
		for _, v := range items {
			vs.Cards = append(vs.Cards, comm.CardItem{CardView: v, RenderState: string(view.Render(v))})
		}
	}

	if err := s.SendPayload(comm.TypeViewState, vs); err != nil {
		log.WithField("socket", s.Id).Debugf("unable to send view state: %s", err)
	}
}
