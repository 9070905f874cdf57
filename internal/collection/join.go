package collection

import (
	"sort"

	"github.com/avvvet/tcg-companion/internal/models"
)

// RefLookup finds a catalog entry by id, (*Collection[models.RefCard]).Get
// is one.
type RefLookup func(id string) (models.RefCard, bool)

// JoinCards left joins cards with their catalog entries. Cards without a
// catalog entry come first, the rest are sorted by catalog name; card id
// breaks ties so the order is stable across syncs.
func JoinCards(cards []models.Card, ref RefLookup) []models.CardView {
	out := make([]models.CardView, 0, len(cards))
	for _, c := range cards {
		v := models.CardView{Card: c}
		if c.RefCardID != nil {
			if rc, ok := ref(*c.RefCardID); ok {
				v.RefCard = &rc
			}
		}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.RefCard == nil) != (b.RefCard == nil) {
			return a.RefCard == nil
		}
		if a.RefCard != nil && a.RefCard.Name != b.RefCard.Name {
			return a.RefCard.Name < b.RefCard.Name
		}
		return a.ID < b.ID
	})
	return out
}
