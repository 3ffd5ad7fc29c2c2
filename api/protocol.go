package api

const postIntentMaxSize = 64 * 1024 // 64 KiB

// POST /api/intents response body
type postIntentResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys"`
	Error           string   `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	sseDataPrefix  = "data: "
	sseFrameEnd    = "\n\n"
	sseSubscribed  = ": subscribed\n\n"
	sseHeartbeat   = ": ping\n\n"
	defaultHistory = 50
)
