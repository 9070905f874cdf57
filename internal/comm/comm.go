package comm

import (
	"encoding/json"

	"github.com/avvvet/tcg-companion/internal/models"
)

// message types exchanged with web clients and between service instances
const (
	TypeViewState          = "view-state"
	TypeCardCreated        = "card-created"
	TypeDeleteCard         = "delete-card"
	TypeDeleteCardResponse = "delete-card-response"
	TypeError              = "error"
)

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "view-state", "delete-card"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid,omitempty"`
	UserId   string          `json:"userid,omitempty"`
}

// CardItem is one gallery entry together with how it should be rendered.
type CardItem struct {
	models.CardView
	RenderState string `json:"render_state"`
}

type ViewState struct {
	State string     `json:"state"` // loading, error, empty, populated
	Cards []CardItem `json:"cards,omitempty"`
	Error string     `json:"error,omitempty"`
}

type CardCreated struct {
	CardId    string `json:"card_id,omitempty"`
	ImagePath string `json:"image_path"`
}

type DeleteCard struct {
	Id      string `json:"id"`
	Confirm bool   `json:"confirm"`
}

type DeleteCardRes struct {
	Id     string `json:"id"`
	Status bool   `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewMessage wraps payload into a WSMessage of the given type.
func NewMessage(msgType string, payload any) (*WSMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &WSMessage{Type: msgType, Data: data}, nil
}
