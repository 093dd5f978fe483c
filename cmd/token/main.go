package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"ride-hail-driver/internal/cli"
)

func main() {
	var (
		driverID  = flag.String("driver-id", "", "UUID of the driver profile")
		accountID = flag.String("account-id", "", "UUID of the auth account (defaults to driver-id)")
		secret    = flag.String("secret", "", "JWT HMAC secret (HS256)")
		ttl       = flag.Duration("ttl", 2*time.Hour, "token lifetime")
	)
	flag.Parse()

	if *driverID == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: token --driver-id=<uuid> --secret='<secret>' [--account-id=<uuid>] [--ttl=2h]")
		os.Exit(2)
	}
	if *accountID == "" {
		*accountID = *driverID
	}

	token, claims, err := cli.GenerateDriverToken(*secret, *driverID, *accountID, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println("TOKEN:")
	fmt.Println(token)
	fmt.Println("\nCLAIMS:")
	fmt.Printf("  sub:     %s\n", claims.Subject)
	fmt.Printf("  account: %s\n", claims.AccountID)
	fmt.Printf("  role:    %s\n", claims.Role)
	fmt.Printf("  iat:     %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Printf("  exp:     %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
}
