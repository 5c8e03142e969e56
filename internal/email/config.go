package email

import (
	"strings"

	"github.com/jmehdipour/newsletter-gateway/internal/config"
)

// ProvidersFromConfig builds HTTP providers from configuration, skipping
// disabled or incomplete entries.
func ProvidersFromConfig(cfgs []config.ProviderConfig) []Provider {
	var provs []Provider
	for _, pc := range cfgs {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs,
			NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				pc.From,
				pc.Token,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	return provs
}
