// Command otcctl is the operator tool for otcd: it seals private keys for
// the wallet config and sends signed API requests.
//
//	otcctl encrypt-key -out wallet.json
//	otcctl address
//	otcctl call -method POST -path /api/offers -data '{"kind":"buy",...}'
//
// Keys come from OTC_PRIVATE_KEY, or from -key-file sealed with
// OTC_KEY_PASSWORD. A .env file in the working directory is loaded first.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/premarket/internal/crypto"
)

const usage = `usage: otcctl <command> [flags]

commands:
  encrypt-key   seal OTC_PRIVATE_KEY with OTC_KEY_PASSWORD
  address       print the account of the configured key
  call          send a signed request to otcd
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encrypt-key":
		err = encryptKey(os.Args[2:])
	case "address":
		err = address(os.Args[2:])
	case "call":
		err = call(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "otcctl: %v\n", err)
		os.Exit(1)
	}
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "wallet.json", "file to write the sealed key to")
	_ = fs.Parse(args)

	raw := os.Getenv("OTC_PRIVATE_KEY")
	if raw == "" {
		return fmt.Errorf("encrypt-key: OTC_PRIVATE_KEY is not set")
	}
	sealed, err := crypto.EncryptKey(raw, os.Getenv("OTC_KEY_PASSWORD"))
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return fmt.Errorf("encrypt-key: write %s: %w", *out, err)
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}

func address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keyFile := fs.String("key-file", "", "sealed key written by encrypt-key")
	_ = fs.Parse(args)

	signer, err := loadSigner(*keyFile)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

func call(args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8000", "otcd base URL")
	method := fs.String("method", http.MethodGet, "HTTP method")
	path := fs.String("path", "/api/health", "request path including any query")
	data := fs.String("data", "", "request body; @file reads it from a file")
	keyFile := fs.String("key-file", "", "sealed key written by encrypt-key")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	_ = fs.Parse(args)

	body, err := readBody(*data)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	signer, err := loadSigner(*keyFile)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}

	m := strings.ToUpper(*method)
	headers, err := signer.Headers(m, *path, time.Now().Unix(), body)
	if err != nil {
		return fmt.Errorf("call: sign: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, m, strings.TrimRight(*baseURL, "/")+*path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("call: read response: %w", err)
	}
	fmt.Fprintln(os.Stderr, resp.Status)
	fmt.Println(strings.TrimSpace(string(out)))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("call: %s", resp.Status)
	}
	return nil
}

func loadSigner(keyFile string) (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    os.Getenv("OTC_PRIVATE_KEY"),
		EncryptedKeyPath: keyFile,
		KeyPassword:      os.Getenv("OTC_KEY_PASSWORD"),
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(key), nil
}

func readBody(data string) ([]byte, error) {
	if strings.HasPrefix(data, "@") {
		return os.ReadFile(strings.TrimPrefix(data, "@"))
	}
	return []byte(data), nil
}
