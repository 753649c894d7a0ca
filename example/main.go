package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/LuisAll12/captcha-gate/core"
)

func main() {
	store := core.NewMemoryStore()
	defer store.Close()

	svc, err := core.NewService(core.Config{
		Store:  store,
		Strict: true,
	})
	if err != nil {
		log.Fatalf("failed to create service: %v", err)
	}

	ctx := context.Background()

	token, err := svc.Issue(ctx, 5*time.Minute, map[string]string{"score": "0.9"})
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}

	fmt.Printf("Issued one-time token:\n")
	fmt.Printf("  ID: %s\n", token.ID)
	fmt.Printf("  Expires At: %s\n", token.ExpiresAt)
	fmt.Printf("  Guaranteed: %v\n\n", token.Guaranteed)

	if err := svc.Consume(ctx, token.ID); err != nil {
		log.Fatalf("failed to consume token: %v", err)
	}
	fmt.Println("First redemption succeeded.")

	if err := svc.Consume(ctx, token.ID); err != nil {
		fmt.Printf("As expected, token cannot be used twice: %v\n", err)
	}
}
