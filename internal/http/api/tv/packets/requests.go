package packets

// REQUESTS FOR /api/tv/*

type EventRequest struct {
	Table  string         `json:"table" binding:"required"`
	Op     string         `json:"op"`
	Record map[string]any `json:"record" binding:"required"`
}

type MediaEndedRequest struct {
	ItemID string `json:"item_id" binding:"required"`
}

type ResetRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// SocketMessage is what the renderer may send over /api/tv/ws.
type SocketMessage struct {
	Type   string `json:"type"`
	ItemID string `json:"item_id,omitempty"`
}
