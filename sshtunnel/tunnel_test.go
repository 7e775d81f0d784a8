package sshtunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
)

const testPassword = "tunnel-test-secret"

type directTCPIPMsg struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

// startSSHServer runs a minimal in-process SSH server that accepts
// password auth and services direct-tcpip channels by dialing the
// requested destination.
func startSSHServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password for %s", conn.User())
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			tcpConn, err := listener.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				serveSSHConn(tcpConn, config)
			}()
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		wg.Wait()
	}
}

func serveSSHConn(tcpConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(tcpConn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		var msg directTCPIPMsg
		if err := ssh.Unmarshal(newChan.ExtraData(), &msg); err != nil {
			newChan.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		dest, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, fmt.Sprintf("%d", msg.DestPort)))
		if err != nil {
			newChan.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chanReqs, err := newChan.Accept()
		if err != nil {
			dest.Close()
			continue
		}
		go ssh.DiscardRequests(chanReqs)
		go func() {
			done := make(chan struct{})
			go func() {
				io.Copy(ch, dest)
				ch.CloseWrite()
				close(done)
			}()
			io.Copy(dest, ch)
			if tcp, ok := dest.(*net.TCPConn); ok {
				tcp.CloseWrite()
			}
			<-done
			ch.Close()
			dest.Close()
		}()
	}
}

// startEchoServer returns the address of a TCP server that writes back
// everything it reads.
func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()

	return listener.Addr().String(), func() { listener.Close() }
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)
	return host, port
}

func TestTunnelRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	sshAddr, stopSSH := startSSHServer(t)
	defer stopSSH()
	echoAddr, stopEcho := startEchoServer(t)
	defer stopEcho()

	sshHost, sshPort := splitAddr(t, sshAddr)
	echoHost, echoPort := splitAddr(t, echoAddr)

	tunnel, err := New(Config{
		Host:       sshHost,
		Port:       sshPort,
		User:       "tester",
		Password:   testPassword,
		RemoteHost: echoHost,
		RemotePort: echoPort,
		Timeout:    5 * time.Second,
	}, logger)
	require.NoError(t, err)
	defer tunnel.Close()

	assert.NotZero(t, tunnel.LocalPort)

	conn, err := net.Dial("tcp", tunnel.Addr())
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 64*1024)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	go func() {
		conn.Write(payload)
	}()

	got := make([]byte, len(payload))
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestTunnelHalfCloseDeliversFullResponse(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	sshAddr, stopSSH := startSSHServer(t)
	defer stopSSH()

	// The server only answers after reading the full request, which
	// requires the client's half-close to travel end to end, and the
	// response must survive the request side finishing first.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		conn.Write(data)
	}()

	sshHost, sshPort := splitAddr(t, sshAddr)
	destHost, destPort := splitAddr(t, listener.Addr().String())

	tunnel, err := New(Config{
		Host:       sshHost,
		Port:       sshPort,
		User:       "tester",
		Password:   testPassword,
		RemoteHost: destHost,
		RemotePort: destPort,
		Timeout:    5 * time.Second,
	}, logger)
	require.NoError(t, err)
	defer tunnel.Close()

	conn, err := net.Dial("tcp", tunnel.Addr())
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 256*1024)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestTunnelConcurrentConnections(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	sshAddr, stopSSH := startSSHServer(t)
	defer stopSSH()
	echoAddr, stopEcho := startEchoServer(t)
	defer stopEcho()

	sshHost, sshPort := splitAddr(t, sshAddr)
	echoHost, echoPort := splitAddr(t, echoAddr)

	tunnel, err := New(Config{
		Host:       sshHost,
		Port:       sshPort,
		User:       "tester",
		Password:   testPassword,
		RemoteHost: echoHost,
		RemotePort: echoPort,
		Timeout:    5 * time.Second,
	}, logger)
	require.NoError(t, err)
	defer tunnel.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", tunnel.Addr())
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			msg := []byte(fmt.Sprintf("conn-%d-payload", i))
			if _, err := conn.Write(msg); err != nil {
				errs <- err
				return
			}
			got := make([]byte, len(msg))
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			if _, err := io.ReadFull(conn, got); err != nil {
				errs <- err
				return
			}
			if string(got) != string(msg) {
				errs <- fmt.Errorf("echo mismatch on conn %d", i)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestTunnelAuthFailure(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	sshAddr, stopSSH := startSSHServer(t)
	defer stopSSH()

	sshHost, sshPort := splitAddr(t, sshAddr)

	_, err := New(Config{
		Host:       sshHost,
		Port:       sshPort,
		User:       "tester",
		Password:   "wrong",
		RemoteHost: "127.0.0.1",
		RemotePort: 1,
		Timeout:    5 * time.Second,
	}, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestTunnelNoCredentials(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	_, err := New(Config{
		Host:       "127.0.0.1",
		Port:       22,
		User:       "tester",
		RemoteHost: "127.0.0.1",
		RemotePort: 1,
	}, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestTunnelConnectRefused(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	// Grab a port that is certainly closed.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := l.Addr().String()
	l.Close()

	host, port := splitAddr(t, closedAddr)
	_, err = New(Config{
		Host:       host,
		Port:       port,
		User:       "tester",
		Password:   testPassword,
		RemoteHost: "127.0.0.1",
		RemotePort: 1,
		Timeout:    2 * time.Second,
	}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestTunnelCloseIdempotent(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	sshAddr, stopSSH := startSSHServer(t)
	defer stopSSH()
	echoAddr, stopEcho := startEchoServer(t)
	defer stopEcho()

	sshHost, sshPort := splitAddr(t, sshAddr)
	echoHost, echoPort := splitAddr(t, echoAddr)

	tunnel, err := New(Config{
		Host:       sshHost,
		Port:       sshPort,
		User:       "tester",
		Password:   testPassword,
		RemoteHost: echoHost,
		RemotePort: echoPort,
		Timeout:    5 * time.Second,
	}, logger)
	require.NoError(t, err)

	require.NoError(t, tunnel.Close())
	require.NoError(t, tunnel.Close())

	// The local port must stop accepting after close.
	_, err = net.DialTimeout("tcp", tunnel.Addr(), time.Second)
	assert.Error(t, err)
}
