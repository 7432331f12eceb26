package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/config"
	"github.com/harborstay/booking-backend/internal/services"
)

// Exercises the checkout gateway adapter against a real (test-mode) gateway:
// opens a session, reads it back, and round-trips a signed webhook payload.
// Run this after rotating gateway credentials before deploying.
func main() {
	var sessionID string
	flag.StringVar(&sessionID, "session", "", "retrieve an existing session instead of creating one")
	flag.Parse()

	_ = godotenv.Load()

	cfg := &config.CheckoutConfig{
		BaseURL:       os.Getenv("CHECKOUT_BASE_URL"),
		APIKey:        os.Getenv("CHECKOUT_API_KEY"),
		WebhookSecret: os.Getenv("CHECKOUT_WEBHOOK_SECRET"),
		Timeout:       15 * time.Second,
		SuccessURL:    envOr("CHECKOUT_SUCCESS_URL", "https://example.com/success"),
		CancelURL:     envOr("CHECKOUT_CANCEL_URL", "https://example.com/cancel"),
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	checkout := services.NewCheckoutService(cfg, logger, nil)
	if !checkout.IsConfigured() {
		log.Fatal("CHECKOUT_BASE_URL and CHECKOUT_API_KEY must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Checkout Gateway Probe")
	fmt.Println("----------------------")

	if sessionID == "" {
		probeID := uuid.New().String()
		fmt.Printf("Creating probe session (booking ref %s)...\n", probeID)

		handle, err := checkout.CreateSession(ctx, &services.CreateSessionParams{
			BookingID:   probeID,
			Amount:      0.01,
			Currency:    "SGD",
			Description: "HarborStay gateway probe",
		})
		if err != nil {
			log.Fatalf("create session failed: %v", err)
		}
		fmt.Printf("  session_id:   %s\n", handle.ID)
		fmt.Printf("  redirect_url: %s\n", handle.RedirectURL)
		sessionID = handle.ID
	}

	fmt.Printf("Retrieving session %s...\n", sessionID)
	snap, err := checkout.RetrieveSession(ctx, sessionID)
	if err != nil {
		log.Fatalf("retrieve session failed: %v", err)
	}
	fmt.Printf("  status:         %s\n", snap.Status)
	fmt.Printf("  payment_status: %s\n", snap.PaymentStatus)
	fmt.Printf("  amount:         %.2f %s\n", snap.AmountTotal, snap.Currency)

	if cfg.WebhookSecret == "" {
		fmt.Println("CHECKOUT_WEBHOOK_SECRET not set; skipping signature round-trip.")
		return
	}

	fmt.Println("Round-tripping a signed webhook payload...")
	payload, _ := json.Marshal(map[string]interface{}{
		"type": "checkout.session.completed",
		"data": map[string]interface{}{
			"id":             sessionID,
			"status":         snap.Status,
			"payment_status": snap.PaymentStatus,
		},
	})
	sig := services.SignPayload(payload, cfg.WebhookSecret)

	event, err := checkout.VerifyNotification(payload, sig)
	if err != nil {
		log.Fatalf("signature round-trip failed: %v", err)
	}
	fmt.Printf("  verified event type %s for session %s\n", event.Type, event.SessionID)

	fmt.Println("All probes passed.")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
