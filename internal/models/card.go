package models

// MatchingStatus is set by the backend matcher while a card has no catalog link.
type MatchingStatus string

const (
	MatchingPending MatchingStatus = "pending"
	MatchingFailed  MatchingStatus = "failed"
)

// Card is a user-owned collection entry.
type Card struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	ImagePath      string          `json:"image_path"`
	RefCardID      *string         `json:"ref_card_id"`
	MatchingStatus *MatchingStatus `json:"matching_status,omitempty"`
}

// RefCard is a read-only catalog entry a Card resolves to once matched.
type RefCard struct {
	ID         string  `json:"id"`
	TcgID      string  `json:"tcg_id"`
	TcgLocalID string  `json:"tcg_local_id"`
	Name       string  `json:"name"`
	ImageURL   *string `json:"image_url"`
	SetID      string  `json:"set_id"`
	SetName    string  `json:"set_name"`
}

// CardView is a Card left joined with its catalog entry.
type CardView struct {
	Card
	RefCard *RefCard `json:"ref_card"`
}

// HasStatus reports whether the card carries the given matching status.
func (c Card) HasStatus(s MatchingStatus) bool {
	return c.MatchingStatus != nil && *c.MatchingStatus == s
}
