// Package sshtunnel provides an authenticated local TCP port forwarder:
// a loopback listener whose connections are carried to a remote
// endpoint through direct-tcpip channels on an SSH session.
package sshtunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"dbbridge/metrics"
	"dbbridge/util/goroutine"
)

const (
	// DefaultTimeout bounds the whole dial+handshake+auth sequence.
	DefaultTimeout = 20 * time.Second

	// keepaliveInterval is how often a keep-alive request is sent to
	// prevent idle disconnects from intermediate firewalls.
	keepaliveInterval = 15 * time.Second
)

// ErrAuthFailed is returned when neither key nor password
// authentication succeeded.
var ErrAuthFailed = errors.New("ssh authentication failed - check credentials")

// Config holds the SSH endpoint, credentials, and the remote endpoint
// to forward to. Either KeyPath or Password (or both, key tried first)
// must be supplied.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string

	RemoteHost string
	RemotePort int

	// Timeout bounds tunnel construction. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Tunnel is an open SSH tunnel. LocalPort is the OS-assigned loopback
// port; connections accepted there are forwarded to the configured
// remote endpoint until Close is called.
type Tunnel struct {
	LocalPort int

	client   *ssh.Client
	listener net.Listener
	logger   *zap.SugaredLogger

	// The SSH session is not safe for concurrent channel opens; this
	// mutex is held only around the open call, never during the copy.
	channelMu sync.Mutex

	remoteAddr string
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// expandKeyPath expands a leading ~ to the user's home directory.
func expandKeyPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func buildAuthMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		keyPath := expandKeyPath(cfg.KeyPath)
		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key %s: %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key %s: %w", keyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	// Password auth is the fallback when key auth does not succeed.
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, ErrAuthFailed
	}
	return methods, nil
}

// New opens an SSH session, authenticates, binds a loopback listener
// on an ephemeral port, and starts the forwarding loop. The returned
// tunnel must outlive every use of its local port; Close tears it down.
func New(cfg Config, logger *zap.SugaredLogger) (*Tunnel, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	auth, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, err
	}

	sshAddr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	logger.Infow("Creating SSH tunnel",
		"ssh_addr", sshAddr,
		"remote_host", cfg.RemoteHost,
		"remote_port", cfg.RemotePort)

	conn, err := net.DialTimeout("tcp", sshAddr, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("ssh tunnel connection timed out after %s", timeout)
		}
		return nil, fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host is user-supplied, key pinning is not part of the config
		Timeout:         timeout,
	}

	// The deadline covers handshake and auth; cleared once the
	// session is established so forwarding is not cut short.
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set SSH deadline: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, sshAddr, clientConfig)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, ErrAuthFailed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("ssh tunnel connection timed out after %s", timeout)
		}
		return nil, fmt.Errorf("ssh handshake failed: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("failed to clear SSH deadline: %w", err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to bind local port: %w", err)
	}
	localPort := listener.Addr().(*net.TCPAddr).Port

	t := &Tunnel{
		LocalPort:  localPort,
		client:     client,
		listener:   listener,
		logger:     logger,
		remoteAddr: net.JoinHostPort(cfg.RemoteHost, fmt.Sprintf("%d", cfg.RemotePort)),
		shutdownCh: make(chan struct{}),
	}

	logger.Infow("SSH tunnel listening", "local_port", localPort)
	metrics.ActiveTunnels.Inc()

	go t.keepaliveLoop()
	go t.acceptLoop()

	return t, nil
}

// keepaliveLoop sends periodic keep-alive requests on the session.
func (t *Tunnel) keepaliveLoop() {
	defer goroutine.Recover("sshtunnel-keepalive", t.logger)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.shutdownCh:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Debugw("SSH keepalive failed", "error", err)
				return
			}
		}
	}
}

// acceptLoop accepts local connections and forwards each one through
// its own SSH channel.
func (t *Tunnel) acceptLoop() {
	defer goroutine.Recover("sshtunnel-accept", t.logger)

	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.shutdownCh:
				return
			default:
			}
			t.logger.Debugw("SSH tunnel accept error", "error", err)
			return
		}
		go t.forward(local)
	}
}

// forward opens a direct-tcpip channel for one local connection and
// copies bytes both ways. Each direction half-closes its write side
// when its copy finishes so the opposite direction can drain; the
// sockets are fully closed only after both copies end. The
// channel-open lock is released before copying so that data transfer
// for multiple simultaneous connections proceeds fully concurrently.
func (t *Tunnel) forward(local net.Conn) {
	defer goroutine.Recover("sshtunnel-forward", t.logger)

	t.channelMu.Lock()
	remote, err := t.client.Dial("tcp", t.remoteAddr)
	t.channelMu.Unlock()
	if err != nil {
		local.Close()
		t.logger.Warnw("Failed to open SSH channel", "remote", t.remoteAddr, "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer goroutine.Recover("sshtunnel-copy-up", t.logger)
		defer wg.Done()
		n, _ := io.Copy(remote, local)
		metrics.TunnelBytesCopied.WithLabelValues("up").Add(float64(n))
		halfClose(remote)
	}()
	go func() {
		defer goroutine.Recover("sshtunnel-copy-down", t.logger)
		defer wg.Done()
		n, _ := io.Copy(local, remote)
		metrics.TunnelBytesCopied.WithLabelValues("down").Add(float64(n))
		halfClose(local)
	}()
	wg.Wait()

	local.Close()
	remote.Close()
}

// halfClose signals EOF to the peer while leaving the reverse
// direction open. TCP sockets and SSH channels both support it; the
// fallback closes outright.
func halfClose(conn net.Conn) {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := conn.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}

// Addr returns the loopback address of the tunnel's local listener.
func (t *Tunnel) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", t.LocalPort)
}

// Close fires the shutdown signal, closes the listener, and tears down
// the SSH session. Safe to call more than once.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.shutdownCh)
		t.listener.Close()
		err = t.client.Close()
		metrics.ActiveTunnels.Dec()
		t.logger.Infow("SSH tunnel closed", "local_port", t.LocalPort)
	})
	return err
}
