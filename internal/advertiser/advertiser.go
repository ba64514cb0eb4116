// Package advertiser publishes the daemon's mDNS/DNS-SD record so nearby
// clients can discover it without the client needing a preconfigured
// address.
package advertiser

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"

	"github.com/foveate/hostd/internal/logging"
)

var log = logging.L("advertiser")

// ServiceType is the DNS-SD service type this daemon advertises.
const ServiceType = "_apple-foveated-streaming._tcp"

// txtKey is the TXT record key carrying the advertised bundle identifier.
const txtKey = "Application-Identifier"

// Advertiser publishes one mDNS record for the lifetime of a Coordinator.
type Advertiser struct {
	server *mdns.Server
}

// Advertise publishes an mDNS record for the given bundle id and port.
// Failure is returned to the caller but is non-fatal to the Coordinator:
// callers are expected to log and continue serving connections.
func Advertise(bundleID string, port int, addresses []net.IP) (*Advertiser, error) {
	instance, err := os.Hostname()
	if err != nil {
		instance = "foveate-hostd"
	}

	service, err := mdns.NewMDNSService(
		instance,
		ServiceType,
		"",
		"",
		port,
		addresses,
		[]string{fmt.Sprintf("%s=%s", txtKey, bundleID)},
	)
	if err != nil {
		return nil, fmt.Errorf("advertiser: build service record: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("advertiser: start server: %w", err)
	}

	log.Info("advertising mdns service", "instance", instance, "serviceType", ServiceType, "port", port)
	return &Advertiser{server: server}, nil
}

// Close withdraws the advertisement.
func (a *Advertiser) Close() error {
	if a == nil || a.server == nil {
		return nil
	}
	log.Info("withdrawing mdns advertisement")
	return a.server.Shutdown()
}
