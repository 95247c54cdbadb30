package cmd

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// resolveServeAddr determines the listen address for the serve command.
// Precedence: positional argument, --addr flag, then the configured
// listen_addr.
//
//   - workbench serve :8080
//   - workbench serve --addr :8080
//   - workbench serve            (uses config)
func resolveServeAddr(configAddr string) (string, error) {
	serveFlags := flag.NewFlagSet("serve", flag.ContinueOnError)
	serveFlags.SetOutput(os.Stderr)
	flagAddr := serveFlags.String("addr", "", "listen address (host:port)")

	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		positional := args[0]
		if err := serveFlags.Parse(args[1:]); err != nil {
			return "", fmt.Errorf("parsing serve flags: %w", err)
		}
		return positional, checkListenAddr(positional)
	}

	if err := serveFlags.Parse(args); err != nil {
		return "", fmt.Errorf("parsing serve flags: %w", err)
	}

	addr := *flagAddr
	if addr == "" {
		addr = configAddr
	}
	return addr, checkListenAddr(addr)
}

// checkListenAddr rejects addresses net.Listen would not accept,
// before any expensive setup runs.
func checkListenAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("listen address %q: want host:port: %w", addr, err)
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("listen address %q: port must be 0-65535", addr)
	}

	// Hostnames are resolved at bind time; only reject obvious garbage.
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " \t\n") {
		return fmt.Errorf("listen address %q: invalid host", addr)
	}
	return nil
}
