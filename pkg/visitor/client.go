package visitor

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/codeGROOVE-dev/visitorid/pkg/geo"
)

const defaultIP = "127.0.0.1"

// Device classes.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceBot     = "bot"
)

// Client describes the browser that sent a request.
type Client struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Device         string `json:"device,omitempty"`
	Bot            bool   `json:"bot,omitempty"`
}

// ParseUserAgent extracts browser, OS and device class from a User-Agent header.
func ParseUserAgent(s string) Client {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "unknown") {
		return Client{}
	}
	ua := useragent.New(s)
	name, version := ua.Browser()
	c := Client{
		Browser:        name,
		BrowserVersion: version,
		OS:             ua.OSInfo().Name,
		Bot:            ua.Bot(),
	}
	switch {
	case c.Bot:
		c.Device = DeviceBot
	case ua.Mobile():
		c.Device = DeviceMobile
	default:
		c.Device = DeviceDesktop
	}
	return c
}

// EffectiveIP picks the address to attribute a visit to: the server-observed
// address unless it is local, then the address the browser reported, then
// whatever the server saw. Forwarded lists are reduced to their first entry.
func EffectiveIP(server, client string) string {
	server, client = geo.FirstIP(server), geo.FirstIP(client)
	switch {
	case !geo.IsLocal(server):
		return server
	case !geo.IsLocal(client):
		return client
	case server != "":
		return server
	default:
		return defaultIP
	}
}
