package indicators

// VolumeRatio divides the last volume by the mean of the preceding period
// bars. Returns 1 (neutral) when there is not enough data or no volume.
func VolumeRatio(volumes []float64, period int) float64 {
	n := len(volumes)
	if period < 1 || n < period+1 {
		return 1
	}

	sum := 0.0
	for i := n - 1 - period; i < n-1; i++ {
		sum += volumes[i]
	}

	mean := sum / float64(period)
	if mean <= 0 {
		return 1
	}

	return volumes[n-1] / mean
}
