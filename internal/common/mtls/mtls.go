package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config points at the PEM files used for service-to-service TLS.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

func LoadFromEnv() *Config {
	return &Config{
		Enabled:  strings.EqualFold(os.Getenv("MTLS_ENABLED"), "true"),
		CertFile: os.Getenv("MTLS_CERT_FILE"),
		KeyFile:  os.Getenv("MTLS_KEY_FILE"),
		CAFile:   os.Getenv("MTLS_CA_FILE"),
	}
}

func (c *Config) loadPair() (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	caPEM, err := os.ReadFile(c.CAFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to read CA: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return tls.Certificate{}, nil, fmt.Errorf("no certificates found in %s", c.CAFile)
	}
	return cert, pool, nil
}

// ServerTLSConfig requires and verifies client certificates.
func (c *Config) ServerTLSConfig() (*tls.Config, error) {
	cert, pool, err := c.loadPair()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (c *Config) ClientTLSConfig() (*tls.Config, error) {
	cert, pool, err := c.loadPair()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// HTTPClient returns a client with the given timeout, presenting the client
// certificate when mTLS is enabled.
func (c *Config) HTTPClient(timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if !c.Enabled {
		return client, nil
	}

	tlsConfig, err := c.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	return client, nil
}
