package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		os      string
		browser string
		device  string
	}{
		{
			"Windows Chrome",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			"Windows", "Chrome", "PC",
		},
		{
			"iPhone Safari",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			"iOS", "Safari", "Mobile",
		},
		{
			"Android Firefox",
			"Mozilla/5.0 (Android 14; Mobile; rv:121.0) Gecko/121.0 Firefox/121.0",
			"Android", "Firefox", "Mobile",
		},
		{
			"macOS Edge",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36 Edg/120.0",
			"macOS", "Edge", "PC",
		},
		{
			"iPad",
			"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/604.1",
			"iOS", "Safari", "Tablet",
		},
		{
			"empty header",
			"",
			Unknown, Unknown, Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Parse(tt.header)
			assert.Equal(t, tt.os, info.OS)
			assert.Equal(t, tt.browser, info.Browser)
			assert.Equal(t, tt.device, info.Device)
		})
	}
}
