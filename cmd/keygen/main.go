// keygen manages encryption key material. By default it prints a fresh
// master key suitable for XPLORA_ENCRYPTION_MASTER_KEY; with -rotate it
// rotates the named Vault Transit key instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"xplora.org/internal/fieldcrypt"
	"xplora.org/internal/kms"
)

func main() {
	log.SetFlags(0)
	rotate := flag.String("rotate", "", "rotate this Vault Transit key (uses VAULT_* env) instead of printing a master key")
	flag.Parse()

	if *rotate != "" {
		_ = godotenv.Load()
		client, err := kms.NewClient(kms.Config{
			Addr:      os.Getenv("VAULT_ADDR"),
			RoleID:    os.Getenv("VAULT_ROLE_ID"),
			SecretID:  os.Getenv("VAULT_SECRET_ID"),
			Token:     os.Getenv("VAULT_TOKEN"),
			Namespace: os.Getenv("VAULT_NAMESPACE"),
		})
		if err != nil {
			log.Fatalf("vault: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.RotateKey(ctx, *rotate); err != nil {
			log.Fatalf("rotate %s: %v", *rotate, err)
		}
		fmt.Printf("rotated transit key %s\n", *rotate)
		return
	}

	key, err := fieldcrypt.GenerateMasterKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	fmt.Println(key)
}
