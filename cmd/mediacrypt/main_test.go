package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/media-resource-loader/internal/config"
	"github.com/kenneth/media-resource-loader/internal/crypto"
)

func TestRun_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "clip.mp4")
	encPath := filepath.Join(dir, "clip.mp4.enc")
	outPath := filepath.Join(dir, "clip.out.mp4")

	plain := bytes.Repeat([]byte("media-bytes-"), 20000)
	require.NoError(t, os.WriteFile(plainPath, plain, 0600))

	enc := config.EncryptionConfig{Algorithm: crypto.AlgorithmChaCha20, Password: "pw", Iterations: 1000}

	n, err := run(context.Background(), enc, plainPath, encPath, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(plain)), n)

	encrypted, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.NotEqual(t, plain, encrypted)

	// The loader decrypts positioned chunks; the whole-file output must agree.
	params, err := crypto.ParamsFromConfig(enc)
	require.NoError(t, err)
	c, err := crypto.NewCipher("pw", params)
	require.NoError(t, err)
	chunk, err := c.Decrypt(encrypted[1000:1100], 1000)
	require.NoError(t, err)
	assert.Equal(t, plain[1000:1100], chunk)

	_, err = run(context.Background(), enc, encPath, outPath, 0)
	require.NoError(t, err)
	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(context.Background(), config.EncryptionConfig{Password: "pw"}, filepath.Join(dir, "missing"), filepath.Join(dir, "out"), 0)
	assert.Error(t, err)

	_, err = run(context.Background(), config.EncryptionConfig{Password: "pw", Algorithm: "rot13"}, "", "", 0)
	assert.ErrorIs(t, err, crypto.ErrUnsupportedAlgorithm)
}
