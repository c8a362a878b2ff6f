// Command genkey generates an Ed25519 identity keypair and prints a key
// directory entry for the public half.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

func main() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}

	userID := uuid.New()

	fmt.Printf("User ID:              %s\n", userID)
	fmt.Printf("Public key (base64):  %s\n", base64.StdEncoding.EncodeToString(pub))
	fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))
	fmt.Println()
	fmt.Println("Key directory entry:")
	fmt.Printf("  %q: %q\n", userID, base64.StdEncoding.EncodeToString(pub))
}
