package dto

type HealthResponse struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}
