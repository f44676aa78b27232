package net

import (
	"fmt"
	"os"

	"github.com/hashicorp/mdns"
)

const serviceType = "_boardsync._tcp"

// Advertise announces the relay on the local network so clients without a
// configured relay URL can find it. The returned server must be shut down
// on exit.
func Advertise(port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := mdns.NewMDNSService(
		host,
		serviceType,
		"",
		"",
		port,
		nil,
		[]string{"boardsync relay"},
	)
	if err != nil {
		return nil, fmt.Errorf("create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mDNS server: %w", err)
	}
	return server, nil
}

// Discover browses for an advertised relay and returns its websocket URL.
// The first usable answer wins.
func Discover() (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan string, 1)
	go func() {
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			select {
			case found <- fmt.Sprintf("ws://%s:%d/ws", e.AddrV4.String(), e.Port):
			default:
			}
		}
	}()
	if err := mdns.Lookup(serviceType, entries); err != nil {
		return "", fmt.Errorf("mDNS lookup: %w", err)
	}
	close(entries)
	select {
	case url := <-found:
		return url, nil
	default:
		return "", fmt.Errorf("no relay advertised on the local network")
	}
}
