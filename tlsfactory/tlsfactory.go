// Package tlsfactory generates the self-signed certificate used for
// implicit TLS on the SMTP and POP3 listeners (spec.md §4.6). Unlike
// a production mail server, testmaild never loads an operator-supplied
// certificate: every run gets a fresh, ephemeral one for the configured
// hostname (localhost by default).
package tlsfactory

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertValidityHours bounds the self-signed certificate's lifetime;
// long enough to outlive any single test run.
const CertValidityHours = 24

// RSAKeyBits is the key size used for the generated certificate.
const RSAKeyBits = 2048

// GenerateSelfSignedCert produces an RSA self-signed certificate for
// hostname (typically "localhost"), suitable for tls.Config.Certificates.
func GenerateSelfSignedCert(hostname string) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsfactory: generate key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"testmaild"},
			CommonName:   hostname,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(CertValidityHours * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsfactory: create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsfactory: build key pair: %w", err)
	}
	return cert, nil
}

// NewServerTLSConfig builds a tls.Config with a freshly generated
// self-signed certificate for hostname, and a floor of TLS 1.2.
func NewServerTLSConfig(hostname string) (*tls.Config, error) {
	cert, err := GenerateSelfSignedCert(hostname)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
