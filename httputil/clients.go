package httputil

import (
	"net/http"
	"net/url"
	"time"
)

type Clients struct {
	API  *http.Client // Domain API, through HTTP_PROXY_URL when set
	Auth *http.Client // token endpoint
}

// NewClients builds the outbound clients. An empty or unparsable proxyURL
// means direct connections.
func NewClients(proxyURL string) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil && u.Host != "" {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	return &Clients{
		API: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Auth: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
	}
}
