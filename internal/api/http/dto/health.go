package dto

type HealthResponse struct {
	Status string `json:"status"`
	Hub    string `json:"hub,omitempty"`
}
