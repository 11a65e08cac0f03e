package crypto

import (
	"encoding/base64"
	"fmt"

	"github.com/kenneth/media-resource-loader/internal/config"
)

// ParamsFromConfig converts the encryption section of the configuration into
// cipher parameters. Unset fields keep their defaults.
func ParamsFromConfig(cfg config.EncryptionConfig) (Params, error) {
	params := DefaultParams()
	if cfg.Algorithm != "" {
		params.Algorithm = cfg.Algorithm
	}
	if cfg.Iterations > 0 {
		params.Iterations = cfg.Iterations
	}
	if cfg.Salt != "" {
		salt, err := base64.StdEncoding.DecodeString(cfg.Salt)
		if err != nil {
			return Params{}, fmt.Errorf("invalid salt: %w", err)
		}
		params.Salt = salt
	}
	return params, nil
}
