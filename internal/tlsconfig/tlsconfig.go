// Package tlsconfig turns file-based TLS material into a *tls.Config.
//
// It accepts the same inputs as mosquitto's tls_set/tls_opts_set: a
// protocol version string, a CA certificate file and/or a directory of CA
// certificates, and an optional client certificate and key. Certificate
// chains are verified later by crypto/tls during the handshake; this package
// only reads and parses.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Errors returned by Load.
var (
	// ErrUnsupportedVersion is returned for an unknown protocol version string.
	ErrUnsupportedVersion = errors.New("tlsconfig: unsupported TLS version")

	// ErrUnreadable wraps file system errors for any certificate or key path.
	ErrUnreadable = errors.New("tlsconfig: certificate material unreadable")

	// ErrNoCertificates is returned when a CA source contains no PEM certificates.
	ErrNoCertificates = errors.New("tlsconfig: no certificates found")

	// ErrIncompleteKeyPair is returned when only one of cert and key is given.
	ErrIncompleteKeyPair = errors.New("tlsconfig: client certificate and key must be set together")

	// ErrInvalidKeyPair is returned when the client certificate and key do not parse or match.
	ErrInvalidKeyPair = errors.New("tlsconfig: invalid client key pair")
)

// defaultMinVersion applies when Material.Version is empty.
const defaultMinVersion = tls.VersionTLS12

// versions maps mosquitto-style version strings to crypto/tls constants.
var versions = map[string]uint16{
	"tlsv1":   tls.VersionTLS10,
	"tlsv1.0": tls.VersionTLS10,
	"tlsv1.1": tls.VersionTLS11,
	"tlsv1.2": tls.VersionTLS12,
	"tlsv1.3": tls.VersionTLS13,
}

// Material is the file-path based TLS configuration of a session.
type Material struct {
	// Version selects the protocol version, e.g. "tlsv1.2". Empty means
	// TLS 1.2 or newer.
	Version string `yaml:"version"`

	// CAFile is a PEM file with one or more trusted CA certificates.
	CAFile string `yaml:"ca_file"`

	// CAPath is a directory whose *.pem and *.crt files are trusted CAs.
	CAPath string `yaml:"ca_path"`

	// CertFile and KeyFile hold the client certificate for mutual TLS.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ParseVersion converts a version string into a crypto/tls constant.
func ParseVersion(v string) (uint16, error) {
	if v == "" {
		return defaultMinVersion, nil
	}
	if id, ok := versions[strings.ToLower(v)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
}

// Load reads the material and builds a client TLS configuration.
//
// A named version pins both the minimum and maximum protocol version, as
// mosquitto does. With neither CAFile nor CAPath the system roots are used.
func Load(m Material) (*tls.Config, error) {
	version, err := ParseVersion(m.Version)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion: version,
	}
	if m.Version != "" {
		cfg.MaxVersion = version
	}

	if m.CAFile != "" || m.CAPath != "" {
		pool, err := loadCAPool(m.CAFile, m.CAPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if (m.CertFile == "") != (m.KeyFile == "") {
		return nil, ErrIncompleteKeyPair
	}
	if m.CertFile != "" {
		cert, err := loadKeyPair(m.CertFile, m.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := readFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := readFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, errors.Join(ErrInvalidKeyPair, err)
	}
	return cert, nil
}

func loadCAPool(caFile, caPath string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()

	if caFile != "" {
		pem, err := readFile(caFile)
		if err != nil {
			return nil, err
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrNoCertificates, caFile)
		}
	}

	if caPath != "" {
		added, err := appendCADir(pool, caPath)
		if err != nil {
			return nil, err
		}
		if added == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoCertificates, caPath)
		}
	}

	return pool, nil
}

// appendCADir adds every *.pem and *.crt file in dir to pool and returns
// how many files contributed at least one certificate.
func appendCADir(pool *x509.CertPool, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		pem, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return 0, err
		}
		if pool.AppendCertsFromPEM(pem) {
			added++
		}
	}
	return added, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return data, nil
}
