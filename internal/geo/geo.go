package geo

import (
	"context"

	"github.com/Merryfling/shortlink/internal/config"
)

// Unknown is the sentinel value reported when a lookup fails or the ip is
// outside every known range. Lookups never return empty fields.
const Unknown = "Unknown"

// Location describes where a visitor's ip is registered.
type Location struct {
	Country  string `json:"country"`
	Province string `json:"province"`
	City     string `json:"city"`
	ISP      string `json:"isp"`
}

// UnknownLocation is returned whenever a lookup cannot be resolved.
var UnknownLocation = Location{
	Country:  Unknown,
	Province: Unknown,
	City:     Unknown,
	ISP:      Unknown,
}

// Locator resolves an ip address to a Location. Implementations must degrade
// to UnknownLocation on failure rather than returning an error to the caller.
type Locator interface {
	Lookup(ctx context.Context, ip string) Location
}

// New selects a locator implementation from configuration: an offline
// dataset, or a remote HTTP API.
func New(cfg config.GeoConfig) (Locator, error) {
	if cfg.Provider == "remote" {
		return NewRemoteLocator(cfg.APIEndpoint, cfg.APIKey, cfg.HTTPTimeout), nil
	}
	return NewOfflineLocator(cfg.DatasetPath)
}
