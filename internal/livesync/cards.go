package livesync

import (
	"context"
	"net/http"
	"sync"

	"github.com/avvvet/tcg-companion/internal/collection"
	"github.com/avvvet/tcg-companion/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	TableCard    = "card"
	TableRefCard = "refcard"
)

// CardSync keeps a user's cards and the reference catalog in sync.
type CardSync struct {
	Cards *collection.Collection[models.Card]
	Refs  *collection.Collection[models.RefCard]

	card, refcard *Stream
}

// NewCardSync builds both streams against baseURL. client must carry the
// user's credentials, the backend scopes the card shape by them.
func NewCardSync(baseURL string, client *http.Client) *CardSync {
	s := &CardSync{
		Cards: collection.New[models.Card](),
		Refs:  collection.New[models.RefCard](),
	}
	s.card = NewStream(baseURL, TableCard, client, s.Cards)
	s.refcard = NewStream(baseURL, TableRefCard, client, s.Refs)
	return s
}

// Run follows both tables until ctx is cancelled. The first stream error
// stops the other stream and is returned.
func (s *CardSync) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.card.Run(gctx) })
	g.Go(func() error { return s.refcard.Run(gctx) })
	return g.Wait()
}

func (s *CardSync) Ready() bool {
	return s.Cards.Ready() && s.Refs.Ready()
}

func (s *CardSync) View() []models.CardView {
	return collection.JoinCards(s.Cards.Values(), s.Refs.Get)
}

// Subscribe signals after a change to either collection.
func (s *CardSync) Subscribe() (<-chan struct{}, func()) {
	cardCh, cardStop := s.Cards.Subscribe()
	refCh, refStop := s.Refs.Subscribe()

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-cardCh:
			case <-refCh:
			case <-done:
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			cardStop()
			refStop()
			close(done)
		})
	}
}
