// Package sshexec runs commands on the server host over SSH.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"robottelo/internal/client"
	"robottelo/internal/settings"
	"robottelo/pkg/logging"
)

// Config holds connection parameters.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte
	Timeout    time.Duration
}

// ConfigFromSettings builds a Config from the server section.
func ConfigFromSettings(s settings.Server) Config {
	return Config{
		Host:     s.Hostname,
		Port:     s.SSHPort,
		Username: s.SSHUsername,
		Password: s.SSHPassword,
		Timeout:  time.Duration(s.SSHClient.CommandTimeout) * time.Second,
	}
}

// Executor keeps one SSH connection and opens a session per command.
type Executor struct {
	cfg Config

	mu   sync.Mutex
	conn *ssh.Client
}

var _ client.Executor = (*Executor)(nil)

// New validates cfg. The connection is opened on first Exec.
func New(cfg Config) (*Executor, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh host is required")
	}
	if cfg.Username == "" {
		cfg.Username = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Executor{cfg: cfg}, nil
}

func (e *Executor) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if len(e.cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(e.cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if e.cfg.Password != "" {
		auth = append(auth, ssh.Password(e.cfg.Password))
	}
	return &ssh.ClientConfig{
		User:            e.cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // disposable test hosts
		Timeout:         30 * time.Second,
	}, nil
}

func (e *Executor) connect() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}
	cfg, err := e.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	logging.Debug("SSH", "Connected to %s as %s", addr, e.cfg.Username)
	e.conn = conn
	return conn, nil
}

func (e *Executor) drop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
}

// Exec runs command and returns its exit status and output. A non-zero exit
// status is reported in the result; errors are transport failures,
// cancellation or the command timeout.
func (e *Executor) Exec(ctx context.Context, command string) (*client.ExecResult, error) {
	conn, err := e.connect()
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		// Stale connection; reconnect once.
		e.drop()
		if conn, err = e.connect(); err != nil {
			return nil, err
		}
		if session, err = conn.NewSession(); err != nil {
			return nil, fmt.Errorf("failed to open ssh session: %w", err)
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	logging.Debug("SSH", "Running %q", command)
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, fmt.Errorf("command %q interrupted: %w", command, ctx.Err())
	case err := <-done:
		res := &client.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.Status = exitErr.ExitStatus()
			return res, nil
		}
		return nil, fmt.Errorf("command %q failed: %w", command, err)
	}
}

// Close closes the underlying connection.
func (e *Executor) Close() error {
	e.drop()
	return nil
}
