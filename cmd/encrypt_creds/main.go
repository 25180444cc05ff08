// Command encrypt_creds seals follower account credentials with the
// engine's AES key so they can be inserted into follower_accounts.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/wry5560/PolyHermes-sub002/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	keyHex := os.Getenv("CREDENTIAL_KEY")
	if keyHex == "" {
		log.Fatal("CREDENTIAL_KEY required (64 hex chars)")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		log.Fatal("CREDENTIAL_KEY must be 32 bytes of hex")
	}

	fields := map[string]string{
		"api_secret_enc":  os.Getenv("PLAIN_API_SECRET"),
		"passphrase_enc":  os.Getenv("PLAIN_PASSPHRASE"),
		"private_key_enc": os.Getenv("PLAIN_PRIVATE_KEY"),
	}

	for column, plaintext := range fields {
		if plaintext == "" {
			continue
		}
		sealed, err := models.EncryptField(key, plaintext)
		if err != nil {
			log.Fatalf("encrypt %s: %v", column, err)
		}
		fmt.Printf("%s = %s\n", column, sealed)
	}
}
