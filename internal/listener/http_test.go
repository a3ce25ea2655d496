package listener

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// generateTestCert creates a temporary self-signed certificate for testing.
func generateTestCert(t *testing.T, dir string, serial int64) (certFile, keyFile string) {
	t.Helper()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

func TestHTTPListenerStartStop(t *testing.T) {
	l, err := NewHTTPListener(HTTPListenerConfig{ID: "web", Address: "127.0.0.1:0", Handler: okHandler()})
	if err != nil {
		t.Fatal(err)
	}
	if l.Protocol() != "HTTP" {
		t.Errorf("expected HTTP, got %s", l.Protocol())
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.Addr() == "127.0.0.1:0" {
		t.Fatal("Addr must report the bound port after Start")
	}

	resp, err := http.Get("http://" + l.Addr() + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("unexpected response %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := http.Get("http://" + l.Addr() + "/"); err == nil {
		t.Error("expected connection failure after Stop")
	}
}

func TestHTTPListenerTLSReload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := generateTestCert(t, dir, 1)

	l, err := NewHTTPListener(HTTPListenerConfig{
		ID:       "secure",
		Address:  "127.0.0.1:0",
		Handler:  okHandler(),
		CertFile: certFile,
		KeyFile:  keyFile,
	})
	if err != nil {
		t.Fatal(err)
	}
	if l.Protocol() != "HTTPS" {
		t.Errorf("expected HTTPS, got %s", l.Protocol())
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop(context.Background())

	serial := func() int64 {
		t.Helper()
		conn, err := tls.Dial("tcp", l.Addr(), &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		return conn.ConnectionState().PeerCertificates[0].SerialNumber.Int64()
	}
	if got := serial(); got != 1 {
		t.Fatalf("expected serial 1, got %d", got)
	}

	generateTestCert(t, dir, 2)
	if err := l.ReloadTLSCert(); err != nil {
		t.Fatal(err)
	}
	if got := serial(); got != 2 {
		t.Errorf("expected reloaded serial 2, got %d", got)
	}
}

func TestHTTPListenerBadCertificate(t *testing.T) {
	_, err := NewHTTPListener(HTTPListenerConfig{
		ID:       "bad",
		Address:  "127.0.0.1:0",
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	})
	if err == nil {
		t.Error("expected an error for a missing key pair")
	}
}
