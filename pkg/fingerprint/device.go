package fingerprint

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DeviceInfo is the raw signal set a fingerprint is computed from. The ten
// canonical signals feed the hash; Webdriver only feeds scoring.
type DeviceInfo struct {
	UserAgent           string   `json:"user_agent"`
	Language            string   `json:"language"`
	Platform            string   `json:"platform"`
	ScreenResolution    string   `json:"screen_resolution"`
	Timezone            string   `json:"timezone"`
	ColorDepth          int      `json:"color_depth"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemory        *float64 `json:"device_memory,omitempty"` // GiB, nil when not exposed
	CookieEnabled       bool     `json:"cookie_enabled"`
	DoNotTrack          string   `json:"do_not_track,omitempty"`

	// Webdriver is set when the environment reports automation control.
	Webdriver bool `json:"webdriver"`
}

const (
	placeholderString = "unknown"
	placeholderNull   = "null"
	separator         = "|"
)

// Canonical joins the ten signals in their fixed order. Missing values are
// replaced by placeholders so the shape never changes between calls.
func (d DeviceInfo) Canonical() string {
	memory := placeholderNull
	if d.DeviceMemory != nil {
		memory = strconv.FormatFloat(*d.DeviceMemory, 'f', -1, 64)
	}

	dnt := d.DoNotTrack
	if dnt == "" {
		dnt = placeholderNull
	}

	return strings.Join([]string{
		orUnknown(d.UserAgent),
		orUnknown(d.Language),
		orUnknown(d.Platform),
		orUnknown(d.ScreenResolution),
		orUnknown(d.Timezone),
		strconv.Itoa(d.ColorDepth),
		strconv.Itoa(d.HardwareConcurrency),
		memory,
		strconv.FormatBool(d.CookieEnabled),
		dnt,
	}, separator)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return placeholderString
	}
	return s
}

// SignalSource collects the current device signals. Collect must not fail;
// anything it cannot observe is left at its zero value.
type SignalSource interface {
	Collect(ctx context.Context) DeviceInfo
}

// StaticSource always reports the same DeviceInfo. Hosts that relay signals
// gathered elsewhere (a browser, a mobile app) wrap them in one of these.
type StaticSource DeviceInfo

func (s StaticSource) Collect(context.Context) DeviceInfo { return DeviceInfo(s) }

// HostSource derives signals from the process environment of the machine
// running the agent.
type HostSource struct {
	UserAgent        string
	ScreenResolution string
	ColorDepth       int
	Automated        bool

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (h HostSource) Collect(context.Context) DeviceInfo {
	getenv := h.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	info := DeviceInfo{
		UserAgent:           h.UserAgent,
		Language:            hostLanguage(getenv),
		Platform:            runtime.GOOS + "/" + runtime.GOARCH,
		ScreenResolution:    h.ScreenResolution,
		Timezone:            hostTimezone(getenv),
		ColorDepth:          h.ColorDepth,
		HardwareConcurrency: runtime.NumCPU(),
		CookieEnabled:       true,
		Webdriver:           h.Automated,
	}

	// https://consoledonottrack.com
	if v := getenv("DO_NOT_TRACK"); v == "1" || strings.EqualFold(v, "true") {
		info.DoNotTrack = "1"
	}

	return info
}

// hostLanguage turns a POSIX locale such as en_AU.UTF-8 into en-AU.
func hostLanguage(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		v := getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		v, _, _ = strings.Cut(v, ".")
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

func hostTimezone(getenv func(string) string) string {
	if tz := getenv("TZ"); tz != "" {
		return tz
	}
	if name := time.Local.String(); name != "Local" {
		return name
	}
	name, _ := time.Now().Zone()
	return name
}
