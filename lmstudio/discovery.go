package lmstudio

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoServer reports that no LM Studio server answered on any probed
// address.
var ErrNoServer = errors.New("no LM Studio server found")

const probeTimeout = 2 * time.Second

// Discover finds a reachable LM Studio server and returns its host:port.
// When host or port are non-zero they pin the search to that address;
// otherwise the default local addresses and ports are probed in order.
func Discover(host string, port int) (string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	if host != "" {
		hosts = []string{host}
	}
	ports := DefaultPorts
	if port != 0 {
		ports = []int{port}
	}

	for _, h := range hosts {
		for _, p := range ports {
			hostport := fmt.Sprintf("%s:%d", h, p)
			if probe(hostport) {
				return hostport, nil
			}
		}
	}
	return "", ErrNoServer
}

// probe checks whether an LM Studio server answers at hostport. The
// REST endpoint is only used as a liveness check; all real traffic goes
// over the websocket API.
func probe(hostport string) bool {
	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/v1/models", hostport))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
