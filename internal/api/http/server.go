package http

import (
	"net"
	"net/http"
	"strconv"

	"github.com/veranemoloko/asset-downloader/internal/config"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
)

// Listen binds the first free port of the preference list.
func Listen(host string, ports []int) (net.Listener, error) {
	var errs []error
	for _, port := range ports {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		errs = append(errs, err)
	}
	return nil, &errpkg.PortUnavailableError{Host: host, Ports: ports, Errs: errs}
}

// NewServer creates the HTTP server for the router.
func NewServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}
}
