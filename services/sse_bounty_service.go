package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"dare-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StreamBountyStatusSSE streams real-time status changes for the
// authenticated creator's bounties. Settlement can stay in flight for a
// while; the stream keeps the client current without polling the store.
func (s *BountyService) StreamBountyStatusSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	db := s.DB

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		var cursor time.Time

		// Initialize cursor at the creator's most recent change.
		var latest models.Bounty
		if err := db.
			Where("creator_id = ?", userID).
			Order("updated_at DESC").
			First(&latest).Error; err == nil {
			cursor = latest.UpdatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("SSE init error for user %s: %v", userID, err)
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		w.Flush()

		for {
			select {
			case <-ticker.C:
				var changed []models.Bounty

				err := db.
					Where("creator_id = ?", userID).
					Where("updated_at > ?", cursor).
					Order("updated_at ASC").
					Find(&changed).Error

				if err != nil {
					log.Printf("SSE query error for user %s: %v", userID, err)
					continue
				}

				if len(changed) == 0 {
					continue
				}

				cursor = changed[len(changed)-1].UpdatedAt

				for _, b := range changed {
					payload, _ := json.Marshal(fiber.Map{
						"bounty_id":     b.ID,
						"status":        b.Status,
						"payout_status": b.PayoutStatus,
						"tx_hash":       b.TxHash,
						"updated_at":    b.UpdatedAt,
					})

					fmt.Fprintf(w,
						"event: bounty_status\ndata: %s\n\n",
						payload,
					)
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-c.Context().Done():
				return
			}
		}
	})

	return nil
}
