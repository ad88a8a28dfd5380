package platform

import (
	"errors"
	"time"
)

// ErrNotSupported is returned when the running OS cannot answer a query
var ErrNotSupported = errors.New("not supported on this platform")

// Platform defines the OS-specific queries the producers need
type Platform interface {
	// PowerStatus reports whether external power is connected
	PowerStatus() (*PowerStatus, error)

	// ForegroundApp returns the application that currently has focus
	ForegroundApp() (*AppInfo, error)

	// SystemInfo returns static information about the host
	SystemInfo() (*SystemInfo, error)
}

// PowerStatus is a snapshot of the power source
type PowerStatus struct {
	Plugged bool `json:"isPlugged"`
	// BatteryPercent is -1 when unknown or when there is no battery
	BatteryPercent int `json:"batteryPercent"`
}

// AppInfo describes the focused application
type AppInfo struct {
	Application string    `json:"application"`
	Title       string    `json:"title,omitempty"`
	ProcessID   int       `json:"processId,omitempty"`
	Timestamp   time.Time `json:"-"`
}

// SystemInfo contains system information
type SystemInfo struct {
	OS            string `json:"os"`
	OSVersion     string `json:"osVersion"`
	KernelVersion string `json:"kernelVersion,omitempty"`
	Arch          string `json:"arch"`
	Hostname      string `json:"hostname"`
}
