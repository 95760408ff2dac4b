//go:build !t32api || !cgo

package t32api

import (
	"fmt"

	"github.com/songwenshuai/telnet-rtt/internal/probe"
)

// Connect is available when built with -tags t32api against the vendor
// SDK.
func Connect() (probe.Client, error) {
	return nil, fmt.Errorf("TRACE32 remote API support not enabled; build with -tags t32api")
}
