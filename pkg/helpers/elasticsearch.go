package helpers

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

// NewESClient creates an Elasticsearch client for the audit trail. Requests
// are retried once on 502/503/504 and the transport gives up after timeout.
func NewESClient(addrs []string, username, password string, timeout time.Duration) (*elasticsearch.Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cfg := elasticsearch.Config{
		Addresses:     addrs,
		Username:      username,
		Password:      password,
		RetryOnStatus: []int{502, 503, 504},
		MaxRetries:    1,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: timeout,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		},
	}
	return elasticsearch.NewClient(cfg)
}
