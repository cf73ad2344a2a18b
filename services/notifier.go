// dare-settlement-system/services/notifier.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Notifier posts settlement events to the platform notification relay
// (Telegram fan-out, toasts). Strictly fire-and-forget: delivery failures
// are logged and swallowed, and callers only invoke it from post-commit
// hooks so a notification can never affect settlement state.
type Notifier struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewNotifier reads the relay endpoint from the environment. An unset URL
// disables delivery (useful locally) without disabling the settlement path.
func NewNotifier() *Notifier {
	baseURL := os.Getenv("NOTIFY_SERVICE_URL")
	if baseURL == "" {
		log.Println("⚠️  NOTIFY_SERVICE_URL not set — notifications disabled")
	}
	return &Notifier{
		BaseURL: baseURL,
		Token:   os.Getenv("DARE_SERVICE_TOKEN"),
		Client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Notify delivers one event. Never returns an error.
func (n *Notifier) Notify(event string, payload map[string]interface{}) {
	if n == nil || n.BaseURL == "" {
		return
	}

	body := map[string]interface{}{
		"event":   event,
		"payload": payload,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		log.Printf("⚠️ [NOTIFY] Failed to encode %s event: %v", event, err)
		return
	}

	url := fmt.Sprintf("%s/api/v1/notifications", n.BaseURL)
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("⚠️ [NOTIFY] Failed to build %s request: %v", event, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		log.Printf("⚠️ [NOTIFY] Delivery of %s failed: %v", event, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("⚠️ [NOTIFY] Relay returned %d for %s", resp.StatusCode, event)
	}
}
