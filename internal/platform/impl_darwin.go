//go:build darwin

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

type darwinImpl struct{}

func newPlatform() (Platform, error) {
	return &darwinImpl{}, nil
}

func (p *darwinImpl) PowerStatus() (*PowerStatus, error) {
	output, err := exec.Command("pmset", "-g", "batt").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run pmset: %w", err)
	}
	return parsePmset(string(output))
}

func (p *darwinImpl) ForegroundApp() (*AppInfo, error) {
	script := `tell application "System Events" to get name of first application process whose frontmost is true`
	output, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query frontmost application: %w", err)
	}
	return &AppInfo{
		Application: strings.TrimSpace(string(output)),
		Timestamp:   time.Now(),
	}, nil
}

func (p *darwinImpl) SystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	info := &SystemInfo{
		OS:       "darwin",
		Arch:     runtime.GOARCH,
		Hostname: hostname,
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.KernelVersion = unix.ByteSliceToString(uts.Release[:])
	}
	if version, err := unix.Sysctl("kern.osproductversion"); err == nil {
		info.OSVersion = version
	}
	return info, nil
}
