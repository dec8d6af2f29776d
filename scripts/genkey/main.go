// genkey prepares ctrlsys credentials.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey                  # write data/jwt_{private,public}.pem
//	go run ./scripts/genkey -dir /etc/ctrlsys
//	go run ./scripts/genkey -hash-key secret # print CTRLSYS_API_KEY_HASH for "secret"
//
// Point CTRLSYS_JWT_PRIVATE_KEY and CTRLSYS_JWT_PUBLIC_KEY at the written
// files. Without them the control plane signs tokens with an ephemeral key
// and every restart invalidates issued tokens.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ctrlsys/ctrlsys/internal/auth"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	dir := fs.String("dir", "data", "directory for the JWT key pair")
	hashKey := fs.String("hash-key", "", "print the Argon2id hash of this API key instead of writing keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *hashKey != "" {
		hash, err := auth.HashAPIKey(*hashKey)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "CTRLSYS_API_KEY_HASH=%s\n", hash)
		return nil
	}

	privPath := filepath.Join(*dir, "jwt_private.pem")
	pubPath := filepath.Join(*dir, "jwt_public.pem")
	if err := os.MkdirAll(*dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", *dir, err)
	}

	// Refuse to overwrite existing keys; rotating them invalidates live tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; delete it first to rotate keys", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, "CTRLSYS_JWT_PRIVATE_KEY=%s\nCTRLSYS_JWT_PUBLIC_KEY=%s\n", privPath, pubPath)
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
