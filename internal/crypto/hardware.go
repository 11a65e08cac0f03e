package crypto

import (
	"runtime"

	"github.com/kenneth/media-resource-loader/internal/config"
	"golang.org/x/sys/cpu"
)

// HasAESHardwareSupport checks if the CPU supports AES hardware acceleration.
func HasAESHardwareSupport() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	case "s390x":
		return cpu.S390X.HasAES
	default:
		return false
	}
}

// IsHardwareAccelerationEnabled checks if hardware acceleration is supported AND enabled in config.
func IsHardwareAccelerationEnabled(cfg config.HardwareConfig) bool {
	if !HasAESHardwareSupport() {
		return false
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		return cfg.EnableAESNI
	case "arm64":
		return cfg.EnableARMv8AES
	default:
		return true
	}
}

// RecommendAlgorithm returns the algorithm that will run fastest on this
// host. It is advisory: the algorithm must match the one the media was
// encrypted with.
func RecommendAlgorithm(cfg config.HardwareConfig) string {
	if IsHardwareAccelerationEnabled(cfg) {
		return AlgorithmAESCTR
	}
	return AlgorithmChaCha20
}

// GetHardwareAccelerationInfo returns information about hardware acceleration
// support, suitable for structured log fields.
func GetHardwareAccelerationInfo(cfg *config.HardwareConfig) map[string]interface{} {
	info := map[string]interface{}{
		"aes_hardware_support": HasAESHardwareSupport(),
		"architecture":         runtime.GOARCH,
		"goos":                 runtime.GOOS,
		"go_version":           runtime.Version(),
	}

	if cfg != nil {
		info["aes_ni_enabled"] = cfg.EnableAESNI
		info["armv8_aes_enabled"] = cfg.EnableARMv8AES
		info["hardware_acceleration_active"] = IsHardwareAccelerationEnabled(*cfg)
		info["recommended_algorithm"] = RecommendAlgorithm(*cfg)
	}

	return info
}
