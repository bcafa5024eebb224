// Package spectrum locates the interface peaks in a raw interferometric spectrum.
package spectrum

import (
	"sort"

	"github.com/montanaflynn/stats"
)

const (
	smoothingWindow     = 7
	minSamples          = 10
	minSeparation       = 80
	maxSeparation       = 600
	candidatePeaks      = 15
	estimatedSeparation = 300
)

// Peaks holds the positions of the two interface peaks, in sample indices, with First <= Second.
type Peaks struct {
	First  int
	Second int
	// Estimated is set when Second was extrapolated rather than found.
	Estimated bool
}

// Separation returns the distance between the peaks in samples.
func (p Peaks) Separation() int {
	return p.Second - p.First
}

type candidate struct {
	pos   int
	level float64
}

// DetectPeaks finds the two interface peaks of samples. It smooths the spectrum with a 7 point
// moving average and keeps local maxima that rise above max(1.2*baseline, 0.15*max), where the
// baseline is the median of the lowest fifth of the smoothed values. Among the 15 strongest
// maxima it prefers the strongest pair separated by 80 to 600 samples. ok is false when the
// spectrum is too short to analyze.
func DetectPeaks(samples []uint16) (Peaks, bool) {
	n := len(samples)
	if n < minSamples {
		return Peaks{}, false
	}

	smooth := movingAverage(samples, smoothingWindow)
	sorted := append(stats.Float64Data(nil), smooth...)
	sort.Float64s(sorted)
	baseline, err := stats.Median(sorted[:n/5])
	if err != nil {
		return Peaks{}, false
	}
	maxLevel := sorted[n-1]
	threshold := baseline * 1.2
	if t := maxLevel * 0.15; t > threshold {
		threshold = t
	}

	var found []candidate
	for i := 2; i < n-2; i++ {
		v := smooth[i]
		if v > smooth[i-1] && v > smooth[i+1] && v > smooth[i-2] && v > smooth[i+2] && v > threshold {
			found = append(found, candidate{pos: i, level: v})
		}
	}

	switch len(found) {
	case 0:
		return estimate(argmax(smooth, 0, n), n), true
	case 1:
		first := found[0].pos
		start, end := n/2, n
		if first >= n/2 {
			start, end = 0, n/2
		}
		if second := argmax(smooth, start, end); smooth[second] > threshold {
			return ordered(first, second, false), true
		}
		return estimate(first, n), true
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].level > found[j].level })
	top := found
	if len(top) > candidatePeaks {
		top = top[:candidatePeaks]
	}
	for i := range top {
		for j := i + 1; j < len(top); j++ {
			sep := top[i].pos - top[j].pos
			if sep < 0 {
				sep = -sep
			}
			if sep >= minSeparation && sep <= maxSeparation {
				return ordered(top[i].pos, top[j].pos, false), true
			}
		}
	}
	return ordered(found[0].pos, found[1].pos, false), true
}

// movingAverage is a centered moving average that treats samples beyond either end as zero.
func movingAverage(samples []uint16, window int) stats.Float64Data {
	out := make(stats.Float64Data, len(samples))
	half := window / 2
	for i := range samples {
		var sum float64
		for k := i - half; k <= i+half; k++ {
			if k >= 0 && k < len(samples) {
				sum += float64(samples[k])
			}
		}
		out[i] = sum / float64(window)
	}
	return out
}

func argmax(values []float64, start, end int) int {
	best := start
	for i := start + 1; i < end; i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func estimate(first, n int) Peaks {
	second := first + estimatedSeparation
	if first >= n/2 {
		second = first - estimatedSeparation
	}
	if second < 0 {
		second = 0
	}
	if second > n-1 {
		second = n - 1
	}
	return ordered(first, second, true)
}

func ordered(a, b int, estimated bool) Peaks {
	if a > b {
		a, b = b, a
	}
	return Peaks{First: a, Second: b, Estimated: estimated}
}
