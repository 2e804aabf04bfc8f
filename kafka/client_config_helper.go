package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/kerberos"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"go.uber.org/zap"

	krbconfig "github.com/jcmturner/gokrb5/v8/config"
)

// NewKgoConfig creates a new Config for the Kafka Client as exposed by the franz-go library.
// If TLS certificates can't be read an error will be returned.
func NewKgoConfig(cfg Config, logger *zap.Logger) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DialTimeout(cfg.RequestTimeout),
		// Allow metadata to be refreshed more often than 5s (default) if needed. That mitigates
		// issues with unknown partitions shortly after creating them.
		kgo.MetadataMinAge(time.Second),
	}

	kgoLogger := KgoZapLogger{
		logger: logger.Sugar(),
	}
	opts = append(opts, kgo.WithLogger(kgoLogger))

	// Add Rack Awareness if configured
	if cfg.RackID != "" {
		opts = append(opts, kgo.Rack(cfg.RackID))
	}

	if cfg.SASL.Enabled {
		mechanism, err := newSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mechanism))
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := newTLSConfig(cfg.TLS, logger)
		if err != nil {
			return nil, err
		}
		tlsDialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: 10 * time.Second},
			Config:    tlsConfig,
		}
		opts = append(opts, kgo.Dialer(tlsDialer.DialContext))
	}

	return opts, nil
}

func newSASLMechanism(cfg SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case SASLMechanismPlain:
		return plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism(), nil
	case SASLMechanismScramSHA256:
		return scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha256Mechanism(), nil
	case SASLMechanismScramSHA512:
		return scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha512Mechanism(), nil
	case SASLMechanismGSSAPI:
		kerbCfg, err := krbconfig.Load(cfg.GSSAPI.KerberosConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create kerberos config from specified config filepath: %w", err)
		}

		var krbClient *client.Client
		switch cfg.GSSAPI.AuthType {
		case GSSAPIAuthTypeUser:
			krbClient = client.NewWithPassword(
				cfg.GSSAPI.Username,
				cfg.GSSAPI.Realm,
				cfg.GSSAPI.Password,
				kerbCfg)
		case GSSAPIAuthTypeKeytab:
			ktb, err := keytab.Load(cfg.GSSAPI.KeyTabPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load keytab: %w", err)
			}
			krbClient = client.NewWithKeytab(
				cfg.GSSAPI.Username,
				cfg.GSSAPI.Realm,
				ktb,
				kerbCfg)
		}

		return kerberos.Auth{
			Client:           krbClient,
			Service:          cfg.GSSAPI.ServiceName,
			PersistAfterAuth: true,
		}.AsMechanism(), nil
	default:
		return nil, fmt.Errorf("given sasl mechanism '%v' is invalid", cfg.Mechanism)
	}
}

func newTLSConfig(cfg TLSConfig, logger *zap.Logger) (*tls.Config, error) {
	var caCertPool *x509.CertPool
	if cfg.CaFilepath != "" {
		ca, err := os.ReadFile(cfg.CaFilepath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ca cert: %w", err)
		}
		caCertPool = x509.NewCertPool()
		isSuccessful := caCertPool.AppendCertsFromPEM(ca)
		if !isSuccessful {
			logger.Warn("failed to append ca file to cert pool, is this a valid PEM format?")
		}
	}

	// If configured load TLS cert & key - Mutual TLS
	var certificates []tls.Certificate
	if cfg.CertFilepath != "" && cfg.KeyFilepath != "" {
		cert, err := os.ReadFile(cfg.CertFilepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read TLS certificate: %w", err)
		}
		privateKey, err := os.ReadFile(cfg.KeyFilepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read TLS key: %w", err)
		}

		tlsCert, err := tls.X509KeyPair(cert, privateKey)
		if err != nil {
			return nil, fmt.Errorf("cannot parse pem: %w", err)
		}
		certificates = []tls.Certificate{tlsCert}
	}

	return &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipTLSVerify,
		Certificates:       certificates,
		RootCAs:            caCertPool,
	}, nil
}
