// internal/app/helpers.go
package app

import (
	"net"
	"strings"
)

// NormalizeRelayAddr fills in the host of a listen address and returns the
// websocket URL clients on this machine should use.
func NormalizeRelayAddr(cfgAddr string) (listenAddr string, wsURL string) {
	a := strings.TrimSpace(cfgAddr)
	if a == "" {
		a = ":8788"
	}
	if strings.HasPrefix(a, ":") {
		a = "0.0.0.0" + a
	}
	listenAddr = a

	host, port, err := net.SplitHostPort(a)
	if err != nil {
		return listenAddr, "ws://" + a + "/socket"
	}
	if host == "0.0.0.0" || host == "" || host == "::" {
		host = "127.0.0.1"
	}
	wsURL = "ws://" + net.JoinHostPort(host, port) + "/socket"
	return
}

func logBanner(dir, cfgPath string) {
	log.Info("────────────────────────────────────────")
	log.Info("goopchat client")
	log.Infof(" Profile folder : %s", dir)
	log.Infof(" Config file    : %s", cfgPath)
	log.Info("")
	log.Info(" This process is ONE logged-in user.")
	log.Info(" Different folder/config = different user.")
	log.Info("────────────────────────────────────────")
}
