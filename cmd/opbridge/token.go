package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/wippyai/op-bridge/config"
)

var errNoToken = errors.New("no service account token: set " + config.EnvToken + " or client.token")

// promptToken reads the token without echo when stdin is a terminal.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoToken
	}
	fmt.Fprint(os.Stderr, "Service account token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
