package model

// ErrorResponse is the body of every 4xx response and of unexpected 500s.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body of sleep trigger responses. Status is "success"
// or "error".
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// IssuedKeyResponse carries a freshly issued API key. The key is only ever
// returned in this one response.
type IssuedKeyResponse struct {
	APIKey    string `json:"api_key"`
	KeyPrefix string `json:"key_prefix"`
	Message   string `json:"message"`
}

// ListResponse wraps list endpoint results in a "resource" array.
type ListResponse[T any] struct {
	Resource []T `json:"resource"`
	Count    int `json:"count"`
}
