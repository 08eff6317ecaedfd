package recognizer

import (
	"fmt"
	"math"
	"strings"
)

// decodeCTCGreedy decodes model logits of shape [1, T, C] with greedy CTC:
// argmax per timestep, collapse repeats, drop blanks (class 0). The returned
// confidence is the mean probability of the kept characters, 0 when nothing
// survives.
func decodeCTCGreedy(logits []float32, shape []int64, charset *Charset) (string, float64, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return "", 0, fmt.Errorf("unexpected output shape %v", shape)
	}
	steps := int(shape[1])
	classes := int(shape[2])
	if classes != charset.NumClasses() {
		return "", 0, fmt.Errorf("model has %d classes, charset expects %d", classes, charset.NumClasses())
	}
	if len(logits) < steps*classes {
		return "", 0, fmt.Errorf("output length %d < %d", len(logits), steps*classes)
	}

	var sb strings.Builder
	var probSum float64
	var kept int
	prev := -1
	for t := range steps {
		row := logits[t*classes : (t+1)*classes]
		idx, _ := argmax(row)
		if idx != 0 && idx != prev {
			sb.WriteString(charset.Token(idx))
			probSum += probOf(row, idx)
			kept++
		}
		prev = idx
	}
	if kept == 0 {
		return "", 0, nil
	}
	return sb.String(), probSum / float64(kept), nil
}

func argmax(v []float32) (int, float32) {
	idx := 0
	best := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > best {
			best = v[i]
			idx = i
		}
	}
	return idx, best
}

// probOf returns the probability of v[idx]. Rows that already sum to one are
// used directly; otherwise a stable softmax is applied.
func probOf(v []float32, idx int) float64 {
	var sum float64
	lo, hi := v[0], v[0]
	for _, x := range v {
		sum += float64(x)
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if sum > 0.99 && sum < 1.01 && lo >= 0 && hi <= 1 {
		return float64(v[idx])
	}

	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - hi))
	}
	if denom == 0 {
		return 0
	}
	return math.Exp(float64(v[idx]-hi)) / denom
}
