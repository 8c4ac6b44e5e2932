package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestClientConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig("smtp.example.com", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("ServerName: got %q", cfg.ServerName)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion: got %x, want TLS 1.2", cfg.MinVersion)
	}
	if cfg.InsecureSkipVerify {
		t.Error("verification must be on by default")
	}
	if cfg.RootCAs != nil {
		t.Error("system roots expected when no CA file is given")
	}
}

func TestClientConfigInsecure(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig("smtp.example.com", "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("insecure flag must disable verification")
	}
}

func TestClientConfigCAFile(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("failed to generate cert: %v", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caPath, pemData, 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}

	cfg, err := ClientConfig("localhost", caPath, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("CA file must install a custom root pool")
	}
}

func TestClientConfigCAFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := ClientConfig("localhost", filepath.Join(t.TempDir(), "absent.pem"), false); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}

func TestClientConfigCAFileNoCerts(t *testing.T) {
	t.Parallel()

	caPath := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(caPath, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := ClientConfig("localhost", caPath, false); err == nil {
		t.Fatal("expected error for a CA file without certificates")
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("generated certificate does not parse: %v", err)
	}

	if err := parsed.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate must be valid for localhost: %v", err)
	}
	if err := parsed.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("certificate must be valid for 127.0.0.1: %v", err)
	}
}
