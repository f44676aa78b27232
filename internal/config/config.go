package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Client side.
	RelayURL          string        // ws:// endpoint; empty means discover over mDNS
	ReconnectDelay    time.Duration // delay before a reconnect attempt
	ReconnectPolicy   string        // "constant" or "exponential"
	MaxReconnects     int           // 0 = retry forever
	LivenessWindow    time.Duration // cursor staleness cutoff
	HeartbeatInterval time.Duration // cursor heartbeat cadence
	IdentityPath      string        // bolt db holding the actor id
	SnapshotPath      string        // optional persisted replica snapshot

	// Relay side.
	ListenAddr string
	EnableMDNS bool
}

func Load() Config {
	return Config{
		RelayURL:          getenv("BOARD_RELAY_URL", ""),
		ReconnectDelay:    time.Duration(getenvInt("BOARD_RECONNECT_DELAY_MS", 5000)) * time.Millisecond,
		ReconnectPolicy:   getenv("BOARD_RECONNECT_POLICY", "constant"),
		MaxReconnects:     getenvInt("BOARD_MAX_RECONNECTS", 0),
		LivenessWindow:    time.Duration(getenvInt("BOARD_LIVENESS_WINDOW_MS", 10000)) * time.Millisecond,
		HeartbeatInterval: time.Duration(getenvInt("BOARD_HEARTBEAT_MS", 1000)) * time.Millisecond,
		IdentityPath:      getenv("BOARD_IDENTITY_PATH", "boardsync-identity.db"),
		SnapshotPath:      getenv("BOARD_SNAPSHOT_PATH", ""),
		ListenAddr:        getenv("BOARD_LISTEN_ADDR", ":8888"),
		EnableMDNS:        getenvBool("BOARD_MDNS", true),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
