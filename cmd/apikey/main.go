package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Entitled/app/repository"
	"github.com/ManuelReschke/Entitled/internal/pkg/database"
	"github.com/ManuelReschke/Entitled/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}
	command, email := os.Args[1], os.Args[2]

	database.SetupDatabase()
	users := repository.NewUserRepository(database.GetDB())

	switch command {
	case "issue":
		name := strings.Join(os.Args[3:], " ")
		raw, user, err := repository.ProvisionAPIKey(users, email, name)
		if err != nil {
			log.Fatalf("[APIKey] %v", err)
		}
		log.Infof("[APIKey] Issued key %s... for user %d", user.APIKeyPrefix, user.ID)
		// The raw key is shown once and never stored.
		fmt.Println(raw)

	case "revoke":
		if err := repository.RevokeAPIKey(users, email); err != nil {
			log.Fatalf("[APIKey] %v", err)
		}
		log.Infof("[APIKey] Revoked API key of %s", email)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/apikey/main.go [command] <email> [name]")
	fmt.Println("Commands:")
	fmt.Println("  issue  - create or rotate the API key of a user (creates the user if needed)")
	fmt.Println("  revoke - disable the API key of a user")
}
