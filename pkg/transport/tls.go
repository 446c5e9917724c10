// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"slices"
	"time"
)

const selfSignedValidity = 365 * 24 * time.Hour

// TLSFiles names PEM files for LoadTLS. Empty fields are skipped.
type TLSFiles struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// IsZero reports whether no file is configured.
func (f TLSFiles) IsZero() bool {
	return f.CertFile == "" && f.KeyFile == "" && f.CAFile == ""
}

// LoadTLS builds a TLS configuration from PEM files. For a server, CAFile
// enables client certificate verification; for a client it replaces the
// system roots.
func LoadTLS(files TLSFiles, server bool) (*tls.Config, error) {
	conf := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{ALPN},
	}

	if files.CertFile != "" || files.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	if files.CAFile != "" {
		pem, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", files.CAFile)
		}
		if server {
			conf.ClientCAs = pool
			conf.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			conf.RootCAs = pool
		}
	}

	if server && len(conf.Certificates) == 0 {
		return nil, fmt.Errorf("%w: server TLS needs a certificate and key", ErrInvalidParameters)
	}
	return conf, nil
}

// serverTLS returns conf with the shardfs ALPN, or an ephemeral self-signed
// configuration when conf is nil.
func serverTLS(conf *tls.Config, logger *slog.Logger) (*tls.Config, error) {
	if conf != nil {
		return withALPN(conf), nil
	}

	cert, err := SelfSignedCertificate()
	if err != nil {
		return nil, err
	}
	logger.Warn("no TLS certificate configured, using an ephemeral self-signed certificate")
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// clientTLS returns conf with the shardfs ALPN, or a configuration that
// accepts any server certificate when conf is nil.
func clientTLS(conf *tls.Config, logger *slog.Logger) *tls.Config {
	if conf != nil {
		return withALPN(conf)
	}
	logger.Warn("no TLS configuration for shard peers, server certificates are not verified")
	return &tls.Config{
		// #nosec G402 -- explicit fallback for self-signed shard servers.
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

func withALPN(conf *tls.Config) *tls.Config {
	if slices.Contains(conf.NextProtos, ALPN) {
		return conf
	}
	out := conf.Clone()
	out.NextProtos = append(out.NextProtos, ALPN)
	if out.MinVersion < tls.VersionTLS13 {
		out.MinVersion = tls.VersionTLS13
	}
	return out
}

// SelfSignedCertificate creates an ECDSA P-256 certificate valid for a year.
func SelfSignedCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"shardfs"},
			CommonName:   "shardfs self-signed",
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(selfSignedValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
