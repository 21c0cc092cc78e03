package quicsink

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// LoadClientTLSConfig builds the TLS config a Sink uses to dial the
// collector: the client's own certificate plus the CA pool that
// verifies the collector's certificate.
func LoadClientTLSConfig(caCertPath, clientCertPath, clientKeyPath string) (*tls.Config, error) {
	clientCert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("quicsink: load client key pair: %w", err)
	}

	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("quicsink: read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("quicsink: append CA cert to pool")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      pool,
		NextProtos:   []string{"h3"},
	}, nil
}

// GenerateDevCerts writes a self-signed CA, server, and client
// certificate/key pair to dir, for exercising a Sink against a local
// collector without an operator-provided PKI.
func GenerateDevCerts(dir string) error {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	caCert, err := selfSignedCA(caKey)
	if err != nil {
		return err
	}
	if err := saveCert(dir, "ca.crt", caCert); err != nil {
		return err
	}
	if err := saveKey(dir, "ca.key", caKey); err != nil {
		return err
	}

	for _, leaf := range []struct {
		name     string
		isServer bool
	}{{"server", true}, {"client", false}} {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return err
		}
		cert, err := signedLeaf(key, leaf.name, caCert, caKey, leaf.isServer)
		if err != nil {
			return err
		}
		if err := saveCert(dir, leaf.name+".crt", cert); err != nil {
			return err
		}
		if err := saveKey(dir, leaf.name+".key", key); err != nil {
			return err
		}
	}
	return nil
}

func selfSignedCA(key *ecdsa.PrivateKey) (*x509.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:                pkix.Name{Organization: []string{"oracdc dev CA"}},
		NotBefore:              time.Now(),
		NotAfter:               time.Now().AddDate(1, 0, 0),
		IsCA:                   true,
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:            []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

func signedLeaf(key *ecdsa.PrivateKey, commonName string, ca *x509.Certificate, caKey *ecdsa.PrivateKey, isServer bool) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("quicsink: generate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		DNSNames:     []string{commonName},
	}
	if commonName == "server" {
		template.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	}
	if isServer {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("quicsink: create leaf cert: %w", err)
	}
	return x509.ParseCertificate(der)
}

func saveCert(dir, filename string, cert *x509.Certificate) error {
	f, err := os.Create(dir + "/" + filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func saveKey(dir, filename string, key *ecdsa.PrivateKey) error {
	f, err := os.OpenFile(dir+"/"+filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	return pem.Encode(f, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}
