package kms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeVault implements just enough of the Transit API for the client.
func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sys/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/auth/approle/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["role_id"] != "role" || in["secret_id"] != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"auth": map[string]any{"client_token": "tok-123"},
		})
	})
	mux.HandleFunc("/v1/transit/encrypt/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "tok-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"ciphertext": "vault:v1:" + in["plaintext"]},
		})
	})
	mux.HandleFunc("/v1/transit/keys/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "tok-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/rotate") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/transit/decrypt/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "tok-123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		pt := strings.TrimPrefix(in["ciphertext"], "vault:v1:")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"plaintext": pt},
		})
	})
	return httptest.NewServer(mux)
}

func TestClientRequiresConfig(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := NewClient(Config{Addr: "http://vault:8200"}); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewClient(Config{Addr: "http://vault:8200", Token: "t"}); err != nil {
		t.Fatalf("token-only config should be valid: %v", err)
	}
}

func TestEncryptDecryptViaAppRole(t *testing.T) {
	srv := fakeVault(t)
	defer srv.Close()

	client, err := NewClient(Config{Addr: srv.URL, RoleID: "role", SecretID: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if !client.Healthy(ctx) {
		t.Fatal("expected healthy vault")
	}

	blob, err := client.Encrypt(ctx, "top secret", "customer-data")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(blob, "vault:") {
		t.Fatalf("unexpected ciphertext format: %q", blob)
	}
	want := "vault:v1:" + base64.StdEncoding.EncodeToString([]byte("top secret"))
	if blob != want {
		t.Fatalf("ciphertext = %q, want %q", blob, want)
	}

	pt, err := client.Decrypt(ctx, blob, "customer-data")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != "top secret" {
		t.Fatalf("plaintext = %q", pt)
	}
}

func TestRotateKey(t *testing.T) {
	srv := fakeVault(t)
	defer srv.Close()

	client, err := NewClient(Config{Addr: srv.URL, RoleID: "role", SecretID: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.RotateKey(context.Background(), "customer-data"); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}

	bad, err := NewClient(Config{Addr: srv.URL, Token: "wrong-token"})
	if err != nil {
		t.Fatal(err)
	}
	if err := bad.RotateKey(context.Background(), "customer-data"); err == nil {
		t.Fatal("expected rotate to fail with a bad token")
	}
}

func TestUnreachableVaultIsUnhealthy(t *testing.T) {
	client, err := NewClient(Config{Addr: "http://127.0.0.1:1", Token: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if client.Healthy(context.Background()) {
		t.Fatal("unreachable server reported healthy")
	}
	if _, err := client.Encrypt(context.Background(), "x", "k"); err == nil {
		t.Fatal("expected remote error")
	}
}
