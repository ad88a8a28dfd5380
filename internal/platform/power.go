package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// parsePmset reads the output of `pmset -g batt`
func parsePmset(output string) (*PowerStatus, error) {
	status := &PowerStatus{BatteryPercent: -1}

	switch {
	case strings.Contains(output, "'AC Power'"):
		status.Plugged = true
	case strings.Contains(output, "'Battery Power'"):
		status.Plugged = false
	default:
		return nil, fmt.Errorf("unrecognized pmset output")
	}

	if m := percentPattern.FindStringSubmatch(output); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil {
			status.BatteryPercent = pct
		}
	}
	return status, nil
}

// readPowerSupply inspects a sysfs power_supply directory. A machine without
// a battery counts as plugged.
func readPowerSupply(root string) (*PowerStatus, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	status := &PowerStatus{BatteryPercent: -1}
	hasBattery := false
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		kind := readTrimmed(filepath.Join(dir, "type"))

		if kind == "Battery" {
			hasBattery = true
			if status.BatteryPercent < 0 {
				if pct, err := strconv.Atoi(readTrimmed(filepath.Join(dir, "capacity"))); err == nil {
					status.BatteryPercent = pct
				}
			}
			continue
		}

		if readTrimmed(filepath.Join(dir, "online")) == "1" {
			status.Plugged = true
		}
	}

	if !hasBattery {
		status.Plugged = true
	}
	return status, nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
