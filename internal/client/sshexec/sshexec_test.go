package sshexec

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robottelo/internal/settings"
)

func startServer(t *testing.T) (string, int) {
	t.Helper()
	srv := &gliderssh.Server{
		Handler: func(s gliderssh.Session) {
			cmd := s.RawCommand()
			switch {
			case cmd == "hostname":
				_, _ = io.WriteString(s, "sat.example\n")
				_ = s.Exit(0)
			case strings.HasPrefix(cmd, "exit "):
				var code int
				_, _ = fmt.Sscanf(cmd, "exit %d", &code)
				_, _ = io.WriteString(s.Stderr(), "failing on purpose\n")
				_ = s.Exit(code)
			case cmd == "sleep":
				<-s.Context().Done()
			default:
				_, _ = io.WriteString(s.Stderr(), "command not found\n")
				_ = s.Exit(127)
			}
		},
		PasswordHandler: func(ctx gliderssh.Context, password string) bool {
			return ctx.User() == "root" && password == "changeme"
		},
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestExec(t *testing.T) {
	host, port := startServer(t)
	e, err := New(Config{Host: host, Port: port, Username: "root", Password: "changeme", Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	tests := []struct {
		command    string
		wantStatus int
		wantStdout string
		wantStderr string
	}{
		{command: "hostname", wantStatus: 0, wantStdout: "sat.example\n"},
		{command: "exit 3", wantStatus: 3, wantStderr: "failing on purpose\n"},
		{command: "bogus", wantStatus: 127, wantStderr: "command not found\n"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			res, err := e.Exec(context.Background(), tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantStdout, res.Stdout)
			assert.Equal(t, tt.wantStderr, res.Stderr)
		})
	}
}

func TestExecTimeout(t *testing.T) {
	host, port := startServer(t)
	e, err := New(Config{Host: host, Port: port, Password: "changeme", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	_, err = e.Exec(context.Background(), "sleep")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecBadPassword(t *testing.T) {
	host, port := startServer(t)
	e, err := New(Config{Host: host, Port: port, Password: "wrong"})
	require.NoError(t, err)

	_, err = e.Exec(context.Background(), "hostname")
	assert.Error(t, err)
}

func TestConfigFromSettings(t *testing.T) {
	var srv settings.Server
	srv.Hostname = "sat.example"
	srv.SSHUsername = "root"
	srv.SSHPort = 2222
	srv.SSHClient.CommandTimeout = 90

	cfg := ConfigFromSettings(srv)
	assert.Equal(t, "sat.example", cfg.Host)
	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.Timeout)

	_, err := New(Config{})
	assert.Error(t, err)
}
