package detector

import (
	"fmt"

	"github.com/phandanh111/ocr-cccd-card/internal/utils"
)

// decodePredictions converts raw model output into detections in source-image
// coordinates. The expected layout is [1, 4+numClasses, numAnchors]: four
// center-format box values followed by per-class scores for each anchor
// column.
func decodePredictions(data []float32, shape []int64, labels []string,
	minConfidence float64, lb letterboxed,
) ([]Detection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	rows := int(shape[1])
	anchors := int(shape[2])
	if rows != 4+len(labels) {
		return nil, fmt.Errorf("output has %d rows, want %d for %d classes", rows, 4+len(labels), len(labels))
	}
	if len(data) < rows*anchors {
		return nil, fmt.Errorf("output data length %d < %d", len(data), rows*anchors)
	}

	at := func(row, col int) float64 { return float64(data[row*anchors+col]) }

	var dets []Detection
	for a := range anchors {
		bestClass := -1
		bestScore := 0.0
		for c := range labels {
			if s := at(4+c, a); s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < minConfidence {
			continue
		}

		cx, cy := at(0, a), at(1, a)
		w, h := at(2, a), at(3, a)
		x1, y1 := lb.toSource(cx-w/2, cy-h/2)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2)

		dets = append(dets, Detection{
			Label:      labels[bestClass],
			Box:        utils.NewBox(x1, y1, x2, y2),
			Confidence: bestScore,
		})
	}
	return dets, nil
}
