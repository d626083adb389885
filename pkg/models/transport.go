package models

// ErrorResponse is the body of every failed view request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// ModeRequest switches the active tab.
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// ModelRequest picks the classification model.
type ModelRequest struct {
	Model string `json:"model" binding:"required"`
}

// ParamsRequest updates the per-mode tuning knobs. Nil fields are left as is.
type ParamsRequest struct {
	Confidence *float64 `json:"confidence,omitempty"`
	TopK       *int     `json:"top_k,omitempty"`
}

// DragLeaveRequest tells whether the pointer moved to a child of the zone.
type DragLeaveRequest struct {
	RelatedInside bool `json:"related_inside"`
}

// BlobSelectRequest selects an image stored in blob storage.
type BlobSelectRequest struct {
	Container string `json:"container" binding:"required"`
	Blob      string `json:"blob" binding:"required"`
}
