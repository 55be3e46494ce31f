package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net"
	"os"
	"time"
)

// SSLMode represents the SSL mode for incoming client connections.
// These mirror PostgreSQL's sslmode settings but apply to this server.
type SSLMode string

const (
	// SSLModeDisable means TLS is disabled entirely. Only plaintext connections are accepted.
	SSLModeDisable SSLMode = "disable"
	// SSLModePrefer means TLS is offered but plaintext connections are accepted
	// when the client never sends an SSLRequest.
	SSLModePrefer SSLMode = "prefer"
	// SSLModeRequire means TLS is required for all connections. Plaintext connections are rejected.
	SSLModeRequire SSLMode = "require"
)

// JsonTLSConfig configures TLS for incoming client connections.
type JsonTLSConfig struct {
	// SSLMode controls whether TLS is required, preferred, or disabled.
	// See the SSLMode type for valid values.
	SSLMode SSLMode `json:"sslmode,omitzero"`

	// CertPath is the path to the TLS certificate file in PEM format.
	CertPath string `json:"cert_path,omitzero"`

	// CertPrivateKeyPath is the path to the TLS private key file in PEM format.
	CertPrivateKeyPath string `json:"cert_private_key_path,omitzero"`

	// GenerateCert enables automatic generation of a self-signed certificate.
	// If CertPath and CertPrivateKeyPath are also set, the certificate is
	// written to those paths (unless they already exist).
	GenerateCert bool `json:"generate_cert,omitzero"`

	// ClientCAPath optionally enables client certificate verification against
	// the CAs in the given PEM file.
	ClientCAPath string `json:"client_ca_path,omitzero"`
}

// Validate checks that the TLS configuration is valid.
// The fsys parameter is used to check if certificate files exist.
func (c *JsonTLSConfig) Validate(fsys fs.FS) error {
	mode := c.SSLMode
	if mode == "" {
		mode = SSLModeDisable
	}

	switch mode {
	case SSLModeDisable, SSLModePrefer, SSLModeRequire:
	default:
		return fmt.Errorf("invalid sslmode %q: must be one of: disable, prefer, require", c.SSLMode)
	}

	if mode == SSLModeDisable {
		return nil
	}

	hasCertPath := c.CertPath != ""
	hasKeyPath := c.CertPrivateKeyPath != ""
	if hasCertPath != hasKeyPath {
		return errors.New("cert_path and cert_private_key_path must both be set or both be empty")
	}

	hasCertPaths := hasCertPath && hasKeyPath
	if !hasCertPaths && !c.GenerateCert {
		return errors.New("TLS enabled but no certificate configured: set cert_path and cert_private_key_path, or set generate_cert to true")
	}

	if !c.GenerateCert && hasCertPaths {
		if _, err := fs.Stat(fsys, c.CertPath); err != nil {
			return fmt.Errorf("cert_path %q: %w", c.CertPath, err)
		}
		if _, err := fs.Stat(fsys, c.CertPrivateKeyPath); err != nil {
			return fmt.Errorf("cert_private_key_path %q: %w", c.CertPrivateKeyPath, err)
		}
	}

	return nil
}

// Enabled returns true if TLS is enabled in any form (prefer or require).
func (c *JsonTLSConfig) Enabled() bool {
	switch c.SSLMode {
	case SSLModePrefer, SSLModeRequire:
		return true
	default:
		return false
	}
}

// Required returns true if TLS is required for all connections.
func (c *JsonTLSConfig) Required() bool {
	return c.SSLMode == SSLModeRequire
}

// TLSResult contains the result of creating a TLS configuration.
type TLSResult struct {
	// Config is the TLS configuration, or nil if TLS is disabled.
	Config *tls.Config
	// LeafDER is the DER encoding of the server's leaf certificate, the
	// input to SCRAM tls-server-end-point channel binding.
	LeafDER []byte
	// WrittenFiles contains the paths of any certificate files that were written.
	WrittenFiles []string
}

// NewTLS creates a tls.Config based on the configuration.
// Returns a TLSResult with nil Config if TLS is disabled.
// If GenerateCert is true and CertPath/CertPrivateKeyPath are set,
// the generated certificate will be written to those paths if they don't exist.
//
// The caller should call Validate() before calling NewTLS().
func (c *JsonTLSConfig) NewTLS(fsys fs.FS, resolvePath func(string) string) (TLSResult, error) {
	if !c.Enabled() {
		return TLSResult{}, nil
	}

	var cert tls.Certificate
	var err error
	var writtenFiles []string

	if c.GenerateCert {
		hasCertPaths := c.CertPath != "" && c.CertPrivateKeyPath != ""
		certExists := hasCertPaths && fileExistsFS(fsys, c.CertPath)
		keyExists := hasCertPaths && fileExistsFS(fsys, c.CertPrivateKeyPath)

		if hasCertPaths && certExists && keyExists {
			// Both files exist, load them instead of generating
			cert, err = loadX509KeyPairFS(fsys, c.CertPath, c.CertPrivateKeyPath)
			if err != nil {
				return TLSResult{}, fmt.Errorf("failed to load certificate: %w", err)
			}
		} else {
			cert, err = generateSelfSignedCert()
			if err != nil {
				return TLSResult{}, fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}

			if hasCertPaths && !certExists && !keyExists {
				certAbsPath := resolvePath(c.CertPath)
				keyAbsPath := resolvePath(c.CertPrivateKeyPath)
				if err := writeCertToFiles(cert, certAbsPath, keyAbsPath); err != nil {
					return TLSResult{}, fmt.Errorf("failed to write certificate to files: %w", err)
				}
				writtenFiles = []string{certAbsPath, keyAbsPath}
			}
		}
	} else {
		cert, err = loadX509KeyPairFS(fsys, c.CertPath, c.CertPrivateKeyPath)
		if err != nil {
			return TLSResult{}, fmt.Errorf("failed to load certificate: %w", err)
		}
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCAPath != "" {
		caPEM, err := fs.ReadFile(fsys, c.ClientCAPath)
		if err != nil {
			return TLSResult{}, fmt.Errorf("failed to read client_ca_path: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return TLSResult{}, errors.New("client_ca_path contains no usable certificates")
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	var leafDER []byte
	if len(cert.Certificate) > 0 {
		leafDER = cert.Certificate[0]
	}

	return TLSResult{
		Config:       tlsConfig,
		LeafDER:      leafDER,
		WrittenFiles: writtenFiles,
	}, nil
}

// fileExistsFS returns true if the file exists in the filesystem and is not a directory.
func fileExistsFS(fsys fs.FS, path string) bool {
	info, err := fs.Stat(fsys, path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// loadX509KeyPairFS loads a certificate and key from an fs.FS.
func loadX509KeyPairFS(fsys fs.FS, certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := fs.ReadFile(fsys, certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read cert file: %w", err)
	}

	keyPEM, err := fs.ReadFile(fsys, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read key file: %w", err)
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}

// generateSelfSignedCert creates an ECDSA P-256 certificate for localhost,
// valid for one year.
func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "pgfront"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return tls.X509KeyPair(certPEM, keyPEM)
}

// writeCertToFiles writes a certificate and its private key to the specified paths.
func writeCertToFiles(cert tls.Certificate, certPath, keyPath string) error {
	if len(cert.Certificate) == 0 {
		return errors.New("certificate has no DER data")
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})

	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyPath, keyPEM, 0o600)
}
