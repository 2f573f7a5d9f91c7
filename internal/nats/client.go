// Package nats publishes conversation events to NATS JetStream.
package nats

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/anand-san/murmur/pkg/logger"
)

const clientName = "murmur-api"

// Config holds NATS connection settings. TLS is enabled when CAFile is set;
// CertFile and KeyFile add a client certificate.
type Config struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

func (c Config) options(log *logger.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("event bus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("event bus reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("event bus error", fields...)
		}),
	}

	if c.CAFile != "" {
		tlsConfig, err := c.tlsConfig()
		if err != nil {
			return nil, err
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	return opts, nil
}

func (c Config) tlsConfig() (*tls.Config, error) {
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA certificate")
	}

	cfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Client is a NATS connection with its JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
	log  *logger.Logger
}

// Connect dials NATS and opens JetStream. The context bounds the initial dial.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrDisabled
	}
	opts, err := cfg.options(log)
	if err != nil {
		return nil, err
	}

	type dialResult struct {
		nc  *nats.Conn
		err error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		nc, err := nats.Connect(cfg.URL, opts...)
		dialed <- dialResult{nc, err}
	}()

	var nc *nats.Conn
	select {
	case r := <-dialed:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", r.err)
		}
		nc = r.nc
	case <-ctx.Done():
		go func() {
			if r := <-dialed; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open JetStream: %w", err)
	}

	log.Info("connected to event bus", zap.String("url", nc.ConnectedUrl()))
	return &Client{conn: nc, js: js, log: log}, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.log.Warn("event bus drain failed", zap.Error(err))
		c.conn.Close()
	}
}
