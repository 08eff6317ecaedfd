package detector

import (
	"sort"

	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// nonMaxSuppression performs greedy per-class suppression: within each label,
// higher-confidence boxes suppress overlapping boxes above iouThreshold.
func nonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}

	byLabel := make(map[string][]Detection)
	order := make([]string, 0, len(byLabel))
	for _, d := range dets {
		if _, seen := byLabel[d.Label]; !seen {
			order = append(order, d.Label)
		}
		byLabel[d.Label] = append(byLabel[d.Label], d)
	}

	kept := make([]Detection, 0, len(dets))
	for _, label := range order {
		kept = append(kept, suppressClass(byLabel[label], iouThreshold)...)
	}
	return kept
}

func suppressClass(dets []Detection, iouThreshold float64) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	suppressed := make([]bool, len(dets))
	kept := make([]Detection, 0, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] {
				continue
			}
			if utils.IoU(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
