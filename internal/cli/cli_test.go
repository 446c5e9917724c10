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


package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shardfs/internal/config"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/secretsharing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Execute(args, &stdout, &stderr)
	return stdout.String(), err
}

func TestShamirSplitRecover(t *testing.T) {
	out, err := run(t, "shamir", "split", "1234", "-s", "5", "-r", "3")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 5)
	for _, l := range lines {
		_, err := secretsharing.ParseShare(l)
		require.NoError(t, err, l)
	}

	out, err = run(t, "shamir", "recover", lines[4], lines[1], lines[2], "-r", "3")
	require.NoError(t, err)
	assert.Equal(t, "1234", strings.TrimSpace(out))

	// Threshold defaults to the number of shares given.
	out, err = run(t, "shamir", "recover", lines[0], lines[2], lines[3])
	require.NoError(t, err)
	assert.Equal(t, "1234", strings.TrimSpace(out))
}

func TestShamirSplitJSON(t *testing.T) {
	out, err := run(t, "-o", "json", "shamir", "split", "42", "-s", "3", "-r", "2")
	require.NoError(t, err)

	var resp struct {
		Shares []struct {
			X uint64 `json:"x"`
			Y uint64 `json:"y"`
		} `json:"shares"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Shares, 3)

	shares := []secretsharing.Share{
		{X: resp.Shares[0].X, Y: resp.Shares[0].Y},
		{X: resp.Shares[2].X, Y: resp.Shares[2].Y},
	}
	secret, err := secretsharing.Recover(shares, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), secret)
}

func TestShamirErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"not a number", []string{"shamir", "split", "abc"}, "invalid secret"},
		{"secret too large", []string{"shamir", "split", "2305843009213693951"}, "less than"},
		{"threshold above shares", []string{"shamir", "split", "7", "-s", "2", "-r", "3"}, "invalid"},
		{"malformed share", []string{"shamir", "recover", "12"}, "x:y"},
		{"too few shares", []string{"shamir", "recover", "1:5", "-r", "2"}, "insufficient"},
		{"duplicate share", []string{"shamir", "recover", "1:5", "1:5"}, "duplicate"},
		{"missing argument", []string{"shamir", "split"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), tt.want)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "shardfs version "+Version)

	out, err = run(t, "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["version"])
	assert.Equal(t, GitCommit, info["commit"])
}

func TestApplyMountFlags(t *testing.T) {
	flags := &mountFlags{}
	cmd := &cobra.Command{Use: "mount"}
	bindMountFlags(cmd, flags)
	require.NoError(t, cmd.ParseFlags([]string{
		"-n", "3",
		"-p", "14000",
		"--encrypt", "chacha20-poly1305",
		"--peer", "node1",
		"--peer", "node2:14001",
	}))

	cfg := config.Default()
	cfg.Shards.Digest = "blake3"
	cfg.Shards.Parity = 1
	applyMountFlags(cmd, cfg, flags)

	assert.Equal(t, 3, cfg.Shards.Machines)
	assert.Equal(t, 14000, cfg.Transport.Port)
	assert.Equal(t, "chacha20-poly1305", cfg.Crypto.Encryption)
	assert.Equal(t, []string{"node1", "node2:14001"}, cfg.Shards.Peers)
	// Unset flags keep configured values.
	assert.Equal(t, "blake3", cfg.Shards.Digest)
	assert.Equal(t, 1, cfg.Shards.Parity)
	assert.False(t, cfg.Mount.AllowOther)
}

func TestMountRejectsInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "mount", dir+"/mnt", dir+"/store", "-n", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = run(t, "mount", dir+"/mnt", dir+"/store", "--encrypt", "rot13")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid encryption")
}

func TestMountRequiresArguments(t *testing.T) {
	_, err := run(t, "mount", "/mnt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg")
}

func TestServeRejectsInvalidBackend(t *testing.T) {
	_, err := run(t, "serve", t.TempDir(), "--backend", "tape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backend")
}

func TestGlobalLoggingFlags(t *testing.T) {
	opts := &Options{LogLevel: "debug", LogFormat: "json"}
	cfg, err := opts.load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	opts = &Options{ConfigFile: "/nonexistent/shardfs.yaml"}
	_, err = opts.load()
	assert.Error(t, err)
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter("json", &buf).PrintError(assert.AnError))
	assert.Contains(t, buf.String(), `"status": "error"`)

	buf.Reset()
	require.NoError(t, NewPrinter("text", &buf).PrintError(assert.AnError))
	assert.True(t, strings.HasPrefix(buf.String(), "Error: "))

	assert.Error(t, NewPrinter("yaml", &buf).PrintSecret(1))
}
