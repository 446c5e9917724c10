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
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shardfs/internal/testutil"
	"github.com/jeremyhahn/go-shardfs/pkg/logging"
	"github.com/jeremyhahn/go-shardfs/pkg/ratelimit"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

func testConfig() *Config {
	return &Config{
		RetryInterval:    10 * time.Millisecond,
		HandshakeTimeout: 2 * time.Second,
		RequestTimeout:   5 * time.Second,
		Logger:           logging.Discard(),
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func listen(t *testing.T, cfg *Config) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1", 0, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// freePort returns a UDP port with nothing bound to it.
func freePort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return port
}

func TestFrames(t *testing.T) {
	ctx := testContext(t)
	cfg := testConfig()
	l := listen(t, cfg)

	client, err := Connect(ctx, "127.0.0.1", l.Port(), 1, cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte("hello")))
	server, err := l.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	got, err := server.Recv(1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	big := bytes.Repeat([]byte{0xab}, 200_000)
	require.NoError(t, server.Send(big))
	require.NoError(t, server.Send(nil))

	got, err = client.Recv(len(big))
	require.NoError(t, err)
	assert.Equal(t, big, got)

	got, err = client.Recv(0)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, client.Send(make([]byte, 100)))
	_, err = server.Recv(10)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestConnectInvalidParameters(t *testing.T) {
	ctx := testContext(t)
	tests := []struct {
		name    string
		address string
		port    int
		retries int
	}{
		{"empty address", "", 13035, 1},
		{"zero port", "127.0.0.1", 0, 1},
		{"port too large", "127.0.0.1", 70000, 1},
		{"zero retries", "127.0.0.1", 13035, 0},
		{"negative retries", "127.0.0.1", 13035, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Connect(ctx, tt.address, tt.port, tt.retries, testConfig())
			assert.ErrorIs(t, err, ErrInvalidParameters)
		})
	}
}

func TestConnectExhaustsRetries(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 200 * time.Millisecond

	start := time.Now()
	_, err := Connect(testContext(t), "127.0.0.1", freePort(t), 2, cfg)
	assert.ErrorIs(t, err, ErrConnect)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectUnboundedStopsWithContext(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, "127.0.0.1", freePort(t), UnboundedRetries, cfg)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestAcceptAfterClose(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, testConfig())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Accept(testContext(t))
	assert.ErrorIs(t, err, ErrClosed)
}

// startServer serves backend on a loopback port and returns a connected
// RemoteBackend.
func startServer(t *testing.T, backend storage.Backend, scfg ServerConfig) *RemoteBackend {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	l := listen(t, cfg)

	scfg.Logger = logging.Discard()
	srv := NewServer(backend, scfg)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	rb, err := Dial(ctx, "127.0.0.1", l.Port(), 3, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })
	return rb
}

var _ storage.Backend = (*RemoteBackend)(nil)

func TestRemoteBackend(t *testing.T) {
	mem := storage.NewMemory()
	rb := startServer(t, mem, ServerConfig{})

	require.NoError(t, rb.Put("g-0000.shard", []byte("payload"), storage.DefaultOptions()))
	require.NoError(t, rb.Put("g-0001.shard", []byte("other"), nil))
	require.NoError(t, rb.Put("h-0000.shard", nil, nil))

	got, err := rb.Get("g-0000.shard")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	got, err = rb.Get("h-0000.shard")
	require.NoError(t, err)
	assert.Equal(t, []byte{}, got)

	local, err := mem.Get("g-0001.shard")
	require.NoError(t, err)
	assert.Equal(t, []byte("other"), local)

	keys, err := rb.List("g-")
	require.NoError(t, err)
	assert.Equal(t, []string{"g-0000.shard", "g-0001.shard"}, keys)

	keys, err = rb.List("none-")
	require.NoError(t, err)
	assert.Empty(t, keys)

	ok, err := rb.Exists("g-0000.shard")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rb.Delete("g-0000.shard"))
	ok, err = rb.Exists("g-0000.shard")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = rb.Get("g-0000.shard")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, rb.Delete("g-0000.shard"), storage.ErrNotFound)
	assert.ErrorIs(t, rb.Put("", []byte("x"), nil), storage.ErrInvalidKey)

	require.NoError(t, rb.Close())
	_, err = rb.Get("g-0001.shard")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestRemoteBackendReconnects(t *testing.T) {
	rb := startServer(t, storage.NewMemory(), ServerConfig{})
	require.NoError(t, rb.Put("k", []byte("v"), nil))

	// Break the connection underneath the backend.
	require.NoError(t, rb.conn.Close())

	_, err := rb.Get("k")
	assert.ErrorIs(t, err, storage.ErrIO)

	got, err := rb.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestServerRateLimit(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerSecond: 0.01, Burst: 1})
	defer limiter.Stop()

	rb := startServer(t, storage.NewMemory(), ServerConfig{Limiter: limiter})

	_, err := rb.Exists("k")
	require.NoError(t, err)
	_, err = rb.Exists("k")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestShardStoreOverRemoteMachines(t *testing.T) {
	local := storage.NewMemory()
	remoteMem := storage.NewMemory()
	rb := startServer(t, remoteMem, ServerConfig{MaxConns: 2})

	s, err := shard.NewStore([]storage.Backend{local, rb}, logging.Discard())
	require.NoError(t, err)

	files := [][]byte{[]byte("zero"), []byte("one"), []byte("two"), []byte("three")}
	require.NoError(t, s.PutGroup("grp", files))

	remoteKeys, err := remoteMem.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{shard.Name("grp", 1), shard.Name("grp", 3)}, remoteKeys)

	got, err := s.GetGroup("grp", len(files))
	require.NoError(t, err)
	assert.Equal(t, files, got)

	n, err := s.DeleteGroup("grp")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestVerifiedTLS(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	serverCert, err := testutil.GenerateTestServerCert(ca)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile, keyFile, err := serverCert.WriteFiles(dir, "server")
	require.NoError(t, err)
	caFile, _, err := ca.WriteFiles(dir, "ca")
	require.NoError(t, err)

	serverTLS, err := LoadTLS(TLSFiles{CertFile: certFile, KeyFile: keyFile}, true)
	require.NoError(t, err)
	clientTLS, err := LoadTLS(TLSFiles{CAFile: caFile}, false)
	require.NoError(t, err)
	clientTLS.ServerName = "localhost"

	ctx := testContext(t)
	scfg := testConfig()
	scfg.TLS = serverTLS
	l := listen(t, scfg)

	ccfg := testConfig()
	ccfg.TLS = clientTLS
	client, err := Connect(ctx, "127.0.0.1", l.Port(), 1, ccfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte("ping")))
	server, err := l.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()
	got, err := server.Recv(16)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)

	// A client trusting a different CA must fail the handshake.
	other, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	otherFile, _, err := other.WriteFiles(t.TempDir(), "other")
	require.NoError(t, err)
	untrusting, err := LoadTLS(TLSFiles{CAFile: otherFile}, false)
	require.NoError(t, err)
	untrusting.ServerName = "localhost"

	bad := testConfig()
	bad.TLS = untrusting
	_, err = Connect(ctx, "127.0.0.1", l.Port(), 1, bad)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestLoadTLSErrors(t *testing.T) {
	_, err := LoadTLS(TLSFiles{}, true)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = LoadTLS(TLSFiles{CAFile: "/nonexistent/ca.pem"}, false)
	assert.Error(t, err)

	conf, err := LoadTLS(TLSFiles{}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{ALPN}, conf.NextProtos)
	assert.True(t, TLSFiles{}.IsZero())
}

func TestWithALPN(t *testing.T) {
	orig := &tls.Config{NextProtos: []string{"h3"}}
	got := withALPN(orig)
	assert.Equal(t, []string{"h3", ALPN}, got.NextProtos)
	assert.Equal(t, []string{"h3"}, orig.NextProtos, "input must not be modified")
	assert.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)

	same := &tls.Config{NextProtos: []string{ALPN}}
	assert.Same(t, same, withALPN(same))
}

func TestSelfSignedCertificate(t *testing.T) {
	cert, err := SelfSignedCertificate()
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)
	assert.NotNil(t, cert.PrivateKey)
}
