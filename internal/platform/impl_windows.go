//go:build windows

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazyDLL("user32.dll")
	kernel32 = windows.NewLazyDLL("kernel32.dll")

	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowTextLength      = user32.NewProc("GetWindowTextLengthW")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procGetSystemPowerStatus     = kernel32.NewProc("GetSystemPowerStatus")
)

const (
	acLineOnline      = 1
	batteryFlagNone   = 128
	batteryPercentNil = 255
)

// systemPowerStatus mirrors SYSTEM_POWER_STATUS
type systemPowerStatus struct {
	ACLineStatus        byte
	BatteryFlag         byte
	BatteryLifePercent  byte
	SystemStatusFlag    byte
	BatteryLifeTime     uint32
	BatteryFullLifeTime uint32
}

type windowsImpl struct{}

func newPlatform() (Platform, error) {
	return &windowsImpl{}, nil
}

func (p *windowsImpl) PowerStatus() (*PowerStatus, error) {
	var sps systemPowerStatus
	ret, _, err := procGetSystemPowerStatus.Call(uintptr(unsafe.Pointer(&sps)))
	if ret == 0 {
		return nil, fmt.Errorf("GetSystemPowerStatus failed: %w", err)
	}

	status := &PowerStatus{
		Plugged:        sps.ACLineStatus == acLineOnline || sps.BatteryFlag == batteryFlagNone,
		BatteryPercent: -1,
	}
	if sps.BatteryLifePercent != batteryPercentNil && sps.BatteryFlag != batteryFlagNone {
		status.BatteryPercent = int(sps.BatteryLifePercent)
	}
	return status, nil
}

func (p *windowsImpl) ForegroundApp() (*AppInfo, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return nil, fmt.Errorf("failed to get foreground window")
	}

	info := &AppInfo{Timestamp: time.Now()}

	if length, _, _ := procGetWindowTextLength.Call(hwnd); length > 0 {
		buf := make([]uint16, length+1)
		procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
		info.Title = windows.UTF16ToString(buf)
	}

	var processID uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&processID)))
	info.ProcessID = int(processID)
	info.Application = processName(processID)

	return info, nil
}

// processName returns the executable name without .exe
func processName(processID uint32) string {
	if processID == 0 {
		return ""
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, processID)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(handle)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(handle, 0, &buf[0], &size); err != nil {
		return ""
	}

	exe := filepath.Base(windows.UTF16ToString(buf[:size]))
	return strings.TrimSuffix(exe, filepath.Ext(exe))
}

func (p *windowsImpl) SystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	v := windows.RtlGetVersion()
	return &SystemInfo{
		OS:            "windows",
		OSVersion:     fmt.Sprintf("%d.%d", v.MajorVersion, v.MinorVersion),
		KernelVersion: fmt.Sprintf("%d", v.BuildNumber),
		Arch:          runtime.GOARCH,
		Hostname:      hostname,
	}, nil
}
