package models

// Requests for the balance HTTP endpoints.

type HistoryRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type RefreshRequest struct {
	Reason string `query:"reason" json:"reason" default:"manual" validate:"max=32"`
}
