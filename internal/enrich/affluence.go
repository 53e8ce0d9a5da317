package enrich

import (
	"strconv"
	"strings"

	"github.com/smartpixl/forge/internal/record"
)

// GPU tier names and the points each contributes, per spec.md §4.4.7.
const (
	gpuTierHigh = "HIGH"
	gpuTierMid  = "MID"
	gpuTierLow  = "LOW"

	gpuTierHighPoints = 40
	gpuTierMidPoints  = 25
	gpuTierLowPoints  = 10
)

// gpuTierTable maps a GPU renderer substring to its affluence tier.
// Order matters: a specific model string (e.g. "Quadro RTX 8000") must
// precede a broader family catch-all (e.g. "RTX") that would otherwise
// shadow it.
var gpuTierTable = []struct {
	Match string
	Tier  string
}{
	// Workstation / datacenter-class — always HIGH.
	{"Quadro RTX 8000", gpuTierHigh}, {"Quadro RTX 6000", gpuTierHigh},
	{"Quadro RTX 5000", gpuTierHigh}, {"Quadro RTX 4000", gpuTierHigh},
	{"RTX A6000", gpuTierHigh}, {"RTX A5000", gpuTierHigh}, {"RTX A4000", gpuTierHigh},
	{"A100", gpuTierHigh}, {"H100", gpuTierHigh}, {"Tesla V100", gpuTierHigh},
	{"Titan RTX", gpuTierHigh}, {"Titan V", gpuTierHigh},

	// Flagship consumer GeForce/Radeon — HIGH.
	{"RTX 4090", gpuTierHigh}, {"RTX 4080", gpuTierHigh},
	{"RTX 3090", gpuTierHigh}, {"RTX 3080 Ti", gpuTierHigh}, {"RTX 3080", gpuTierHigh},
	{"Radeon RX 7900", gpuTierHigh}, {"Radeon Pro W6800", gpuTierHigh}, {"Radeon VII", gpuTierHigh},

	// Apple Silicon Pro/Max/Ultra variants before the bare "Apple M_"
	// catch-all below.
	{"Apple M3 Ultra", gpuTierHigh}, {"Apple M3 Max", gpuTierHigh}, {"Apple M3 Pro", gpuTierHigh},
	{"Apple M2 Ultra", gpuTierHigh}, {"Apple M2 Max", gpuTierHigh}, {"Apple M2 Pro", gpuTierHigh},
	{"Apple M1 Ultra", gpuTierHigh}, {"Apple M1 Max", gpuTierHigh}, {"Apple M1 Pro", gpuTierHigh},

	// Mid-range workstation parts.
	{"Quadro P4000", gpuTierMid}, {"Quadro P2000", gpuTierMid},

	// Mid-range GeForce/Radeon.
	{"RTX 4070", gpuTierMid}, {"RTX 4060", gpuTierMid},
	{"RTX 3070", gpuTierMid}, {"RTX 3060", gpuTierMid},
	{"RTX 2080", gpuTierMid}, {"RTX 2070", gpuTierMid}, {"RTX 2060", gpuTierMid},
	{"GTX 1080 Ti", gpuTierMid}, {"GTX 1080", gpuTierMid}, {"GTX 1070", gpuTierMid}, {"GTX 1660", gpuTierMid},
	{"Radeon RX 6700", gpuTierMid}, {"Radeon RX 6600", gpuTierMid},
	{"Radeon RX 5700", gpuTierMid}, {"Radeon RX 590", gpuTierMid},

	// Bare Apple Silicon catch-all (base M1/M2/M3) — MID.
	{"Apple M3", gpuTierMid}, {"Apple M2", gpuTierMid}, {"Apple M1", gpuTierMid},

	// Integrated/mobile mid-tier.
	{"Intel Iris Xe", gpuTierMid},
	{"Adreno 740", gpuTierMid}, {"Adreno 730", gpuTierMid}, {"Adreno 660", gpuTierMid},
	{"Mali-G710", gpuTierMid}, {"Mali-G78", gpuTierMid}, {"Mali-G77", gpuTierMid},

	// Entry-level / legacy discrete — LOW.
	{"GTX 1060", gpuTierLow}, {"GTX 1050", gpuTierLow}, {"GTX 960", gpuTierLow},
	{"GTX 950", gpuTierLow}, {"GTX 750", gpuTierLow},
	{"Radeon RX 560", gpuTierLow}, {"Radeon RX 550", gpuTierLow}, {"Radeon HD", gpuTierLow},

	// Low-end integrated.
	{"Intel UHD", gpuTierLow}, {"Intel HD", gpuTierLow}, {"Intel(R) HD Graphics", gpuTierLow},
	{"Adreno 640", gpuTierLow}, {"Adreno 630", gpuTierLow}, {"Adreno 6", gpuTierLow},
	{"Adreno 5", gpuTierLow}, {"Adreno 4", gpuTierLow}, {"Adreno 3", gpuTierLow},
	{"Mali-G5", gpuTierLow}, {"Mali-G3", gpuTierLow}, {"Mali-T8", gpuTierLow}, {"Mali-400", gpuTierLow},

	// Software / virtualized renderers — always LOW, listed last since
	// they are the broadest catch-alls in the table.
	{"PowerVR", gpuTierLow}, {"SwiftShader", gpuTierLow}, {"llvmpipe", gpuTierLow},
	{"Mesa", gpuTierLow}, {"Software Rasterizer", gpuTierLow}, {"ANGLE (Software)", gpuTierLow},
	{"VirtualBox", gpuTierLow}, {"VMware", gpuTierLow}, {"Microsoft Basic Render", gpuTierLow},
}

func lookupGPUTier(gpu string) (string, bool) {
	for _, g := range gpuTierTable {
		if strings.Contains(gpu, g.Match) {
			return g.Tier, true
		}
	}
	return "", false
}

func gpuTierPoints(tier string) int {
	switch tier {
	case gpuTierHigh:
		return gpuTierHighPoints
	case gpuTierMid:
		return gpuTierMidPoints
	default:
		return gpuTierLowPoints
	}
}

const (
	affluenceHighThreshold = 60
	affluenceMidThreshold  = 30
)

// applePlatformTable lists the plt/UA substrings that mark an Apple
// device, for the Apple-platform scoring bonus.
var applePlatformTable = []string{"MacIntel", "iPhone", "iPad", "Macintosh"}

// Affluence implements spec.md §4.4.7: a deterministic score built from
// GPU tier, CPU cores, memory, screen resolution, and platform, bucketed
// into a HIGH/MID/LOW tier.
type Affluence struct{}

// NewAffluence returns a device-affluence scorer.
func NewAffluence() *Affluence { return &Affluence{} }

// Apply reads the gpu/cores/mem/sw/sh/plt query fields and appends
// _srv_gpuTier (when a gpu value was supplied) and _srv_affluence.
func (a *Affluence) Apply(maxLen int, r *record.TrackingRecord) {
	score := 0

	if gpu, ok := r.Get("gpu"); ok && gpu != "" {
		tier, known := lookupGPUTier(gpu)
		if !known {
			tier = gpuTierLow
		}
		r.AppendServer(maxLen, "gpuTier", tier)
		score += gpuTierPoints(tier)
	}

	score += coresScore(r)
	score += memoryScore(r)
	score += screenScore(r)
	if isApplePlatform(r) {
		score += 10
	}

	r.AppendServer(maxLen, "affluence", affluenceBucket(score))
}

func coresScore(r *record.TrackingRecord) int {
	cores, ok := queryInt(r, "cores")
	if !ok {
		return 0
	}
	switch {
	case cores >= 16:
		return 15
	case cores >= 8:
		return 10
	case cores >= 4:
		return 5
	default:
		return 0
	}
}

func memoryScore(r *record.TrackingRecord) int {
	mem, ok := queryInt(r, "mem")
	if !ok {
		return 0
	}
	switch {
	case mem >= 16:
		return 15
	case mem >= 8:
		return 10
	case mem >= 4:
		return 5
	default:
		return 0
	}
}

func screenScore(r *record.TrackingRecord) int {
	sw, okW := queryInt(r, "sw")
	sh, okH := queryInt(r, "sh")
	if !okW || !okH {
		return 0
	}
	megapixels := float64(sw*sh) / 1_000_000
	switch {
	case megapixels >= 2:
		return 10
	case megapixels >= 1:
		return 5
	default:
		return 0
	}
}

func isApplePlatform(r *record.TrackingRecord) bool {
	plt, _ := r.Get("plt")
	for _, pattern := range applePlatformTable {
		if strings.Contains(plt, pattern) || strings.Contains(r.UserAgent, pattern) {
			return true
		}
	}
	return false
}

func affluenceBucket(score int) string {
	switch {
	case score >= affluenceHighThreshold:
		return "HIGH"
	case score >= affluenceMidThreshold:
		return "MID"
	default:
		return "LOW"
	}
}

func queryInt(r *record.TrackingRecord, key string) (int, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
