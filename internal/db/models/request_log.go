package models

// RequestLog is one completed gateway request, written asynchronously.
type RequestLog struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Timestamp    int64  `gorm:"index" json:"timestamp"` // unix ms
	RequestID    string `gorm:"index" json:"request_id"`
	Endpoint     string `json:"endpoint"`
	SourceFormat string `json:"source_format,omitempty"`
	TargetFormat string `json:"target_format,omitempty"`
	Status       int    `json:"status"`
	Duration     int64  `json:"duration"` // milliseconds
	Provider     string `gorm:"index" json:"provider,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
	Model        string `gorm:"index" json:"model,omitempty"`
	TargetModel  string `json:"target_model,omitempty"`
	Attempts     int    `json:"attempts"`
	Stream       bool   `json:"stream"`
	Error        string `json:"error,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// RequestStats holds aggregated statistics for request logs
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
}
