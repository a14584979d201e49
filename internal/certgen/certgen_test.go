package certgen

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupTestCA(t *testing.T) (certPEM, keyPEM []byte, caCert *x509.Certificate, caKey any) {
	t.Helper()

	certPEM, keyPEM, err := GenerateCA("Test CA", 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateCA: %v", err)
	}
	caCert, caKey, err = ParseCA(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("ParseCA: %v", err)
	}
	return certPEM, keyPEM, caCert, caKey
}

func TestGenerateCA(t *testing.T) {
	_, _, caCert, _ := setupTestCA(t)

	if !caCert.IsCA || !caCert.BasicConstraintsValid {
		t.Error("CA certificate should have IsCA and BasicConstraintsValid set")
	}
	wantKU := x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	if caCert.KeyUsage&wantKU != wantKU {
		t.Errorf("CA KeyUsage = %v; want bits %v", caCert.KeyUsage, wantKU)
	}
	if caCert.Subject.CommonName != "Test CA" {
		t.Errorf("CommonName = %q", caCert.Subject.CommonName)
	}
	if err := caCert.CheckSignatureFrom(caCert); err != nil {
		t.Errorf("CA is not self-signed: %v", err)
	}
}

func TestLoadCACredentials_Success(t *testing.T) {
	certPEM, keyPEM, wantCert, _ := setupTestCA(t)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	gotCert, gotKey, err := LoadCACredentials(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadCACredentials error: %v", err)
	}
	if gotCert.SerialNumber.Cmp(wantCert.SerialNumber) != 0 {
		t.Errorf("serial = %v; want %v", gotCert.SerialNumber, wantCert.SerialNumber)
	}
	if gotKey == nil {
		t.Error("expected a key")
	}
}

func TestLoadCACredentials_Errors(t *testing.T) {
	certPEM, keyPEM, _, _ := setupTestCA(t)
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}
	goodCert := write("good.crt", certPEM)
	goodKey := write("good.key", keyPEM)
	garbage := write("garbage.pem", []byte("not pem"))
	wrongType := write("wrong.pem", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1}}))

	tests := []struct {
		name     string
		cert     string
		key      string
		wantPart string
	}{
		{"missing cert", filepath.Join(dir, "none.crt"), goodKey, "read ca cert"},
		{"missing key", goodCert, filepath.Join(dir, "none.key"), "read ca key"},
		{"bad cert pem", garbage, goodKey, "invalid CA cert PEM"},
		{"bad key pem", goodCert, garbage, "invalid CA key PEM"},
		{"unsupported key", goodCert, wrongType, "unsupported key type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadCACredentials(tt.cert, tt.key)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantPart) {
				t.Errorf("error %q does not contain %q", err, tt.wantPart)
			}
		})
	}
}

func TestParseCA_RSAKey(t *testing.T) {
	certPEM, _, _, _ := setupTestCA(t)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)})

	_, key, err := ParseCA(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("ParseCA: %v", err)
	}
	if _, ok := key.(*rsa.PrivateKey); !ok {
		t.Errorf("key type = %T; want *rsa.PrivateKey", key)
	}
}

func TestGenerateServerCertificate(t *testing.T) {
	_, _, caCert, caKey := setupTestCA(t)

	certPEM, keyPEM, err := GenerateServerCertificate([]string{"localhost", "127.0.0.1"}, caCert, caKey)
	if err != nil {
		t.Fatalf("GenerateServerCertificate: %v", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}

	if cert.Subject.CommonName != "localhost" {
		t.Errorf("CommonName = %q", cert.Subject.CommonName)
	}
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 1 || !cert.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("IPAddresses = %v", cert.IPAddresses)
	}
	if err := cert.CheckSignatureFrom(caCert); err != nil {
		t.Errorf("certificate not signed by CA: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	if _, err := cert.Verify(x509.VerifyOptions{
		DNSName:   "localhost",
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}); err != nil {
		t.Errorf("verify: %v", err)
	}

	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		t.Errorf("key pair mismatch: %v", err)
	}
}

func TestGenerateServerCertificate_NoHosts(t *testing.T) {
	_, _, caCert, caKey := setupTestCA(t)
	if _, _, err := GenerateServerCertificate(nil, caCert, caKey); err == nil {
		t.Error("expected error for empty hosts")
	}
}

func TestWriteBundle_ServesTLS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	if err := WriteBundle(dir, []string{"127.0.0.1"}); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}

	for _, name := range []string{CAKeyFile, ServerKeyFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("%s perm = %o; want 600", name, perm)
		}
	}

	pair, err := tls.LoadX509KeyPair(filepath.Join(dir, ServerCertFile), filepath.Join(dir, ServerKeyFile))
	if err != nil {
		t.Fatalf("load pair: %v", err)
	}
	caPEM, err := os.ReadFile(filepath.Join(dir, CACertFile))
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatal("CA not appended")
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{pair}}
	srv.StartTLS()
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("TLS request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
