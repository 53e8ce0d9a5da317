package stateful

import (
	"strings"

	"github.com/smartpixl/forge/internal/record"
)

// gpuReleaseTable maps a GPU renderer substring to its approximate release
// year. Order matters: more specific model strings (e.g. "RTX 4090")
// must precede broader family catch-alls (e.g. "RTX 40").
var gpuReleaseTable = []struct {
	Match string
	Year  int
}{
	{"RTX 4090", 2022}, {"RTX 4080", 2022}, {"RTX 40", 2022},
	{"RTX 3090", 2020}, {"RTX 3080", 2020}, {"RTX 30", 2020},
	{"RTX 2080", 2018}, {"RTX 20", 2018},
	{"GTX 1660", 2019}, {"GTX 1080", 2016}, {"GTX 10", 2016},
	{"GTX 980", 2014}, {"GTX 9", 2014},
	{"Apple M3", 2023}, {"Apple M2", 2022}, {"Apple M1", 2020},
	{"Radeon RX 7", 2022}, {"Radeon RX 6", 2020}, {"Radeon RX 5", 2019},
	{"Intel Iris Xe", 2020}, {"Intel UHD", 2017}, {"Intel HD", 2013},
	{"Adreno 7", 2023}, {"Adreno 6", 2020}, {"Adreno 5", 2017},
	{"Mali-G7", 2021}, {"Mali-G5", 2017},
}

// osReleaseTable approximates an OS version string to its release year.
var osReleaseTable = map[string]int{
	"Windows NT 10.0": 2015, "Windows NT 6.3": 2013, "Windows NT 6.1": 2009,
	"Mac OS X 14": 2023, "Mac OS X 13": 2022, "Mac OS X 12": 2021,
	"Mac OS X 11": 2020, "Mac OS X 10_15": 2019,
	"Android 14": 2023, "Android 13": 2022, "Android 12": 2021,
	"Android 11": 2020, "Android 10": 2019,
}

// browserReleaseYear approximates a major browser version to its
// release year, assuming a roughly yearly-versioned evergreen cadence.
func browserReleaseYear(majorVersion int) int {
	switch {
	case majorVersion >= 120:
		return 2023
	case majorVersion >= 110:
		return 2023
	case majorVersion >= 100:
		return 2022
	case majorVersion >= 90:
		return 2021
	case majorVersion >= 80:
		return 2020
	case majorVersion >= 70:
		return 2019
	default:
		return 2018
	}
}

// DeviceAge implements spec.md §4.5.5.
type DeviceAge struct{}

// NewDeviceAge returns a device-age estimator.
func NewDeviceAge() *DeviceAge { return &DeviceAge{} }

func lookupGPUYear(gpu string) (int, bool) {
	for _, g := range gpuReleaseTable {
		if strings.Contains(gpu, g.Match) {
			return g.Year, true
		}
	}
	return 0, false
}

func lookupOSYear(os string) (int, bool) {
	for prefix, year := range osReleaseTable {
		if strings.HasPrefix(os, prefix) {
			return year, true
		}
	}
	return 0, false
}

func parseMajorVersion(v string) int {
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Apply estimates device age from GPU renderer, OS, and browser
// version and appends _srv_deviceAgeYears plus, when a fixed anomaly
// rule fires, _srv_deviceAgeAnomaly.
func (d *DeviceAge) Apply(maxLen int, r *record.TrackingRecord, currentYear int) {
	gpu, _ := r.Get("gpu")
	gpuYear, gpuKnown := lookupGPUYear(gpu)

	osVersion, _ := r.Get("_srv_osVersion")
	osYear, osKnown := lookupOSYear(osVersion)

	browserVersion, _ := r.Get("_srv_browserVersion")
	browserYear := 0
	browserKnown := browserVersion != ""
	if browserKnown {
		browserYear = browserReleaseYear(parseMajorVersion(browserVersion))
	}

	years := []int{}
	if gpuKnown {
		years = append(years, gpuYear)
	}
	if osKnown {
		years = append(years, osYear)
	}
	if browserKnown {
		years = append(years, browserYear)
	}
	if len(years) == 0 {
		return
	}

	minYear := years[0]
	for _, y := range years[1:] {
		if y < minYear {
			minYear = y
		}
	}
	age := currentYear - minYear
	if age < 0 {
		age = 0
	}
	r.AppendServerInt(maxLen, "deviceAgeYears", int64(age))

	if anomaly := deviceAgeAnomaly(gpuKnown, gpuYear, osKnown, osYear, browserKnown, browserYear, currentYear); anomaly != "" {
		r.AppendServer(maxLen, "deviceAgeAnomaly", anomaly)
	}
}

func deviceAgeAnomaly(gpuKnown bool, gpuYear int, osKnown bool, osYear int, browserKnown bool, browserYear int, currentYear int) string {
	if gpuKnown && browserKnown {
		if currentYear-gpuYear > 7 && currentYear-browserYear <= 1 {
			return "old-gpu-new-browser"
		}
		if currentYear-gpuYear <= 1 && osKnown && currentYear-osYear > 7 {
			return "new-gpu-eol-os"
		}
	}
	if osKnown && browserKnown {
		diff := osYear - browserYear
		if diff < 0 {
			diff = -diff
		}
		if diff > 5 {
			return "os-browser-divergence"
		}
	}
	return ""
}
