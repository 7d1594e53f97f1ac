package modifier

import "math"

// softcap kinds. The softcap numeric utility itself is treated as an
// external collaborator by the specification; this is a minimal, pure
// stand-in so the modifier resolver has something real to compose.
const (
	KindPow = "pow"
	KindLog = "log"
)

// applySoftcap compresses value above threshold according to kind. Values
// at or below threshold pass through unchanged. ok is false for an
// unrecognized kind; callers skip such entries rather than apply them.
func applySoftcap(kind string, threshold float64, params map[string]float64, value float64) (float64, bool) {
	if kind != KindPow && kind != KindLog {
		return value, false
	}
	if value <= threshold {
		return value, true
	}
	overflow := value - threshold
	switch kind {
	case KindPow:
		exponent := params["exponent"]
		if exponent <= 0 || exponent >= 1 {
			exponent = 0.5
		}
		return threshold + math.Pow(overflow, exponent), true
	case KindLog:
		base := params["base"]
		if base <= 1 {
			base = math.E
		}
		return threshold + math.Log(1+overflow)/math.Log(base), true
	default:
		return value, false
	}
}
