// Command keygen generates a fresh pre-shared key and writes it to a
// key file. Copy the file to every client out of band; whoever holds it
// can read and send chat traffic.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/cipherchat/cipherchat/internal/crypto"
)

func main() {
	output := pflag.StringP("output", "o", "secret.key", "path to write the key file")
	force := pflag.BoolP("force", "f", false, "overwrite an existing key file")
	pflag.Parse()

	if !*force {
		if _, err := os.Stat(*output); err == nil {
			log.Fatalf("Key file %s already exists; use --force to overwrite", *output)
		}
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	if err := crypto.SaveKey(*output, key); err != nil {
		log.Fatalf("Failed to save key: %v", err)
	}

	fmt.Printf("Key saved to %s\n", *output)
}
