package s3

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ProviderConfig holds provider-specific defaults.
type ProviderConfig struct {
	Name              string
	DefaultEndpoint   string
	DefaultRegion     string
	EndpointTemplate  string // Sprintf template taking the region
	RequiresPathStyle bool
}

// KnownProviders contains defaults for S3-compatible stores commonly used to
// host media libraries.
var KnownProviders = map[string]ProviderConfig{
	"aws": {
		Name:            "AWS S3",
		DefaultEndpoint: "https://s3.amazonaws.com",
		DefaultRegion:   "us-east-1",
	},
	"minio": {
		Name:              "MinIO",
		DefaultEndpoint:   "http://localhost:9000",
		DefaultRegion:     "us-east-1",
		RequiresPathStyle: true,
	},
	"garage": {
		Name:              "Garage",
		DefaultEndpoint:   "http://localhost:3900",
		DefaultRegion:     "garage",
		RequiresPathStyle: true,
	},
	"wasabi": {
		Name:             "Wasabi",
		DefaultEndpoint:  "https://s3.wasabisys.com",
		DefaultRegion:    "us-east-1",
		EndpointTemplate: "https://s3.%s.wasabisys.com",
	},
	"backblaze": {
		Name:              "Backblaze B2",
		DefaultEndpoint:   "https://s3.us-west-000.backblazeb2.com",
		DefaultRegion:     "us-west-000",
		EndpointTemplate:  "https://s3.%s.backblazeb2.com",
		RequiresPathStyle: true,
	},
	"cloudflare": {
		Name:          "Cloudflare R2",
		DefaultRegion: "auto",
	},
}

// GetProviderConfig returns the configuration for a given provider.
func GetProviderConfig(provider string) (ProviderConfig, error) {
	if provider == "" {
		return ProviderConfig{}, fmt.Errorf("provider name is required")
	}

	cfg, ok := KnownProviders[strings.ToLower(provider)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown provider: %s (supported: %s)",
			provider, strings.Join(providerNames(), ", "))
	}
	return cfg, nil
}

// ValidateProviderConfig fills in provider defaults and normalizes the
// endpoint. It returns the endpoint and region to use.
func ValidateProviderConfig(endpoint, provider, region string) (string, string, error) {
	cfg, err := GetProviderConfig(provider)
	if err != nil {
		return "", "", err
	}

	if region == "" {
		region = cfg.DefaultRegion
	}

	if endpoint == "" {
		if cfg.EndpointTemplate != "" && region != "" {
			endpoint = fmt.Sprintf(cfg.EndpointTemplate, region)
		} else {
			endpoint = cfg.DefaultEndpoint
		}
	}
	if endpoint == "" {
		return "", "", fmt.Errorf("provider %s requires an explicit endpoint", provider)
	}

	endpoint = normalizeEndpoint(endpoint)
	if err := ValidateEndpoint(endpoint); err != nil {
		return "", "", err
	}
	return endpoint, region, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

// ValidateEndpoint validates that an endpoint URL is well-formed.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http:// or https:// scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a hostname")
	}
	return nil
}

func providerNames() []string {
	names := make([]string, 0, len(KnownProviders))
	for name := range KnownProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresPathStyleAddressing returns whether a provider requires path-style addressing.
func RequiresPathStyleAddressing(provider string) bool {
	cfg, ok := KnownProviders[strings.ToLower(provider)]
	return ok && cfg.RequiresPathStyle
}
