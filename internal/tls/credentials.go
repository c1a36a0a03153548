package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadClientConfig builds the client TLS configuration used for both the
// provisioning endpoint and the hub. When caFile is set its certificates are
// trusted in addition to the system roots.
func LoadClientConfig(caFile, serverNameOverride, minVersion string) (*tls.Config, error) {
	version, err := ParseMinVersion(minVersion)
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		MinVersion: version,
	}

	if caFile != "" {
		caPool, err := x509.SystemCertPool()
		if err != nil || caPool == nil {
			caPool = x509.NewCertPool()
		}
		ca, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !caPool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		config.RootCAs = caPool
	}

	if serverNameOverride != "" {
		config.ServerName = serverNameOverride
	}

	return config, nil
}

func ParseMinVersion(version string) (uint16, error) {
	switch version {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("invalid TLS min version: %s (valid: 1.2, 1.3)", version)
	}
}
