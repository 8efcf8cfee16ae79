// Package wsdial builds the one websocket.Dialer every reconnecting client
// in this repo shares: broadcast.ViewerClient, orchestrate.SimulatorClient,
// and detect.ParamClient all dial an external endpoint and must recover
// from disconnects, so the dial-timeout and proxy-from-environment
// handling lives here once instead of three times.
package wsdial

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http/httpproxy"
)

// HandshakeTimeout bounds how long a single dial attempt waits for the
// websocket upgrade to complete before the caller's reconnect loop retries.
const HandshakeTimeout = 5 * time.Second

// New returns a websocket.Dialer configured with HandshakeTimeout and a
// Proxy func derived from the standard HTTP_PROXY/HTTPS_PROXY/NO_PROXY
// environment variables (golang.org/x/net/http/httpproxy), so a client
// behind a corporate proxy reaches its broadcaster/simulator endpoint the
// same way any other HTTP client on the host would.
func New() *websocket.Dialer {
	proxyCfg := httpproxy.FromEnvironment()
	return &websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
		Proxy: func(req *http.Request) (*url.URL, error) {
			return proxyCfg.ProxyFunc()(req.URL)
		},
	}
}
