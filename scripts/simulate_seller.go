package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/estatia/backend/pkg/sdk"
)

// Walks a seller through the happy path against a locally running API:
// check the wallet, invoke a tool, drain the balance, hit the paywall,
// top up, retry.
func main() {
	client := sdk.NewClient(sdk.Config{
		BaseURL: "http://localhost:8080",
		UserID:  "seller-demo-01",
		OnDenied: func(apiErr *sdk.APIError) {
			fmt.Printf("🚫 Denied: %s (%s)\n", apiErr.Kind, apiErr.Message)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("🏠 Seller starting: seller-demo-01")

	wallet, err := client.GetWallet(ctx)
	if err != nil {
		log.Fatalf("❌ Wallet lookup failed: %v", err)
	}
	fmt.Printf("💳 Wallet: %d credits (%s)\n", wallet.Balance, wallet.Status)

	tools, err := client.ListTools(ctx)
	if err != nil {
		log.Fatalf("❌ Catalog lookup failed: %v", err)
	}
	fmt.Printf("🛠  %d tools available:\n", len(tools))
	for _, t := range tools {
		fmt.Printf("   - %s (%d credits)\n", t.Name, t.CreditCost)
	}

	input := map[string]interface{}{
		"listing_id": "prop-demo-123",
		"title":      "Bright 2-bedroom apartment near the canal",
	}

	// Burn through the balance until the gate says no
	for i := 1; ; i++ {
		result, err := client.InvokeTool(ctx, "listing_enhancer", input)
		if err != nil {
			apiErr, ok := sdk.AsAPIError(err)
			if ok && apiErr.Kind == sdk.ErrKindInsufficientCredits {
				fmt.Printf("\n💸 Out of credits after %d calls (short %d)\n", i-1, apiErr.Shortfall)
				break
			}
			log.Fatalf("❌ Invocation failed: %v", err)
		}
		fmt.Printf("✅ Call %d ok: tx=%s, spent=%d, balance=%d\n",
			i, result.TransactionID, result.CreditsSpent, result.BalanceAfter)
	}

	newBalance, err := client.TopUp(ctx, 200, "demo")
	if err != nil {
		log.Fatalf("❌ Top-up failed: %v", err)
	}
	fmt.Printf("💰 Topped up, balance now %d\n", newBalance)

	result, err := client.InvokeTool(ctx, "listing_enhancer", input)
	if err != nil {
		log.Fatalf("❌ Post-top-up invocation failed: %v", err)
	}
	fmt.Printf("✅ Back in business: tx=%s, balance=%d\n", result.TransactionID, result.BalanceAfter)
}
