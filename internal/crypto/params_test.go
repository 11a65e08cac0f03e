package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/media-resource-loader/internal/config"
)

func TestParamsFromConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p, err := ParamsFromConfig(config.EncryptionConfig{})
		require.NoError(t, err)
		assert.Equal(t, DefaultParams(), p)
	})

	t.Run("overrides", func(t *testing.T) {
		p, err := ParamsFromConfig(config.EncryptionConfig{
			Algorithm:  AlgorithmChaCha20,
			Iterations: 5000,
			Salt:       base64.StdEncoding.EncodeToString([]byte("salt")),
		})
		require.NoError(t, err)
		assert.Equal(t, AlgorithmChaCha20, p.Algorithm)
		assert.Equal(t, 5000, p.Iterations)
		assert.Equal(t, []byte("salt"), p.Salt)
	})

	t.Run("invalid salt", func(t *testing.T) {
		_, err := ParamsFromConfig(config.EncryptionConfig{Salt: "!!not base64!!"})
		assert.Error(t, err)
	})
}
