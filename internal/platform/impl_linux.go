//go:build linux

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const powerSupplyRoot = "/sys/class/power_supply"

type linuxImpl struct{}

func newPlatform() (Platform, error) {
	return &linuxImpl{}, nil
}

func (p *linuxImpl) PowerStatus() (*PowerStatus, error) {
	return readPowerSupply(powerSupplyRoot)
}

// ForegroundApp asks xdotool for the active X11 window
func (p *linuxImpl) ForegroundApp() (*AppInfo, error) {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return nil, ErrNotSupported
	}

	title, err := exec.Command("xdotool", "getactivewindow", "getwindowname").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get active window: %w", err)
	}

	info := &AppInfo{
		Title:     strings.TrimSpace(string(title)),
		Timestamp: time.Now(),
	}

	pidOut, err := exec.Command("xdotool", "getactivewindow", "getwindowpid").Output()
	if err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidOut))); err == nil {
			info.ProcessID = pid
			info.Application = readTrimmed(fmt.Sprintf("/proc/%d/comm", pid))
		}
	}
	return info, nil
}

func (p *linuxImpl) SystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	info := &SystemInfo{
		OS:       "linux",
		Arch:     runtime.GOARCH,
		Hostname: hostname,
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.KernelVersion = unix.ByteSliceToString(uts.Release[:])
	}
	info.OSVersion = osRelease()
	return info, nil
}

// osRelease returns PRETTY_NAME from /etc/os-release
func osRelease() string {
	for _, line := range strings.Split(readTrimmed("/etc/os-release"), "\n") {
		if value, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(value, `"`)
		}
	}
	return ""
}
