package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// RemoteLocator queries an HTTP JSON geolocation API. Any transport, status
// or decoding failure degrades to UnknownLocation so the stats pipeline never
// stalls on the geo collaborator.
type RemoteLocator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemoteLocator creates a remote HTTP locator.
func NewRemoteLocator(endpoint, apiKey string, timeout time.Duration) *RemoteLocator {
	return &RemoteLocator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type remoteResponse struct {
	Country  string `json:"country"`
	Province string `json:"province"`
	City     string `json:"city"`
	ISP      string `json:"isp"`
}

// Lookup queries the remote API for ip.
func (l *RemoteLocator) Lookup(ctx context.Context, ip string) Location {
	if l.endpoint == "" {
		return UnknownLocation
	}

	params := url.Values{}
	params.Set("ip", ip)
	if l.apiKey != "" {
		params.Set("key", l.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return UnknownLocation
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return UnknownLocation
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UnknownLocation
	}

	var body remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return UnknownLocation
	}

	return Location{
		Country:  orUnknown(body.Country),
		Province: orUnknown(body.Province),
		City:     orUnknown(body.City),
		ISP:      orUnknown(body.ISP),
	}
}
