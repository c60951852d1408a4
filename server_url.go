package main

import (
	"fmt"
	"net"
	"strings"
)

// listenerURL returns the base URL operators paste into a browser.
func listenerURL(address string, tlsEnabled bool) string {
	return fmt.Sprintf("%s://%s", scheme("http", tlsEnabled), normaliseHostPort(address))
}

// websocketURL returns the telemetry socket endpoint served on the HTTP listener.
func websocketURL(address string, tlsEnabled bool) string {
	return fmt.Sprintf("%s://%s/ws", scheme("ws", tlsEnabled), normaliseHostPort(address))
}

// grpcTarget returns a dial target for the gRPC listener.
func grpcTarget(address string) string {
	return "dns:///" + normaliseHostPort(address)
}

func scheme(base string, tlsEnabled bool) string {
	if tlsEnabled {
		return base + "s"
	}
	return base
}

// normaliseHostPort maps wildcard binds to localhost so the logged address is
// always reachable from the same machine.
func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(strings.TrimSpace(host), port)
}
