package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/helix-labs/helix/crypto"
)

func usage() {
	fmt.Fprintf(os.Stderr, `helixkey manages operator signing keys.

Usage:
  helixkey generate -out FILE [-passphrase P]   generate a key from a fresh mnemonic
  helixkey recover  -out FILE [-passphrase P]   rebuild a key from a mnemonic on stdin
  helixkey inspect  -key FILE [-passphrase P]   print the address of a stored key
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	out := fs.String("out", "operator.key", "where to write the key file")
	keyFile := fs.String("key", "", "key file to inspect")
	passphrase := fs.String("passphrase", "", "encrypt the key file with this passphrase")
	fs.Parse(os.Args[2:])

	switch os.Args[1] {
	case "generate":
		mnemonic, err := crypto.NewMnemonic()
		if err != nil {
			log.Fatalf("Failed to generate mnemonic: %v", err)
		}
		key, err := crypto.PrivateKeyFromMnemonic(mnemonic, *passphrase)
		if err != nil {
			log.Fatalf("Failed to derive key: %v", err)
		}
		saveKey(*out, key, *passphrase)
		fmt.Printf("Mnemonic (write this down, it is shown once):\n  %s\n\n", mnemonic)
		printKey(key, *out)

	case "recover":
		fmt.Fprint(os.Stderr, "Enter mnemonic: ")
		var mnemonic string
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			mnemonic = scanner.Text()
		}
		key, err := crypto.PrivateKeyFromMnemonic(mnemonic, *passphrase)
		if err != nil {
			log.Fatalf("Failed to derive key: %v", err)
		}
		saveKey(*out, key, *passphrase)
		printKey(key, *out)

	case "inspect":
		if *keyFile == "" {
			usage()
		}
		var (
			key crypto.PrivateKey
			err error
		)
		if *passphrase != "" {
			key, err = crypto.LoadEncryptedPrivateKey(*keyFile, *passphrase)
		} else {
			key, err = crypto.LoadPrivateKey(*keyFile)
		}
		if err != nil {
			log.Fatalf("Failed to load key: %v", err)
		}
		printKey(key, *keyFile)

	default:
		usage()
	}
}

func saveKey(path string, key crypto.PrivateKey, passphrase string) {
	var err error
	if passphrase != "" {
		err = crypto.SaveEncryptedPrivateKey(path, key, passphrase)
	} else {
		err = crypto.SavePrivateKey(path, key)
	}
	if err != nil {
		log.Fatalf("Failed to save key: %v", err)
	}
}

func printKey(key crypto.PrivateKey, path string) {
	pub := key.PublicKey()
	addr, err := pub.Address()
	if err != nil {
		log.Fatalf("Failed to derive address: %v", err)
	}
	pubBytes, err := pub.Marshal()
	if err != nil {
		log.Fatalf("Failed to marshal public key: %v", err)
	}
	fmt.Printf("Key file:   %s\n", path)
	fmt.Printf("Address:    %s\n", addr.String())
	fmt.Printf("Public key: %s\n", base64.StdEncoding.EncodeToString(pubBytes))
}
