package dictionary

import (
	"strconv"
	"strings"
)

// CompareVersions orders dotted versions numerically per segment ("1.10"
// sorts after "1.9"). Non numeric segments compare as strings.
func CompareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func compareSegment(x, y string) int {
	xn, xerr := strconv.Atoi(x)
	yn, yerr := strconv.Atoi(y)
	switch {
	case x == y:
		return 0
	case xerr == nil && yerr == nil:
		if xn < yn {
			return -1
		}
		if xn > yn {
			return 1
		}
		return 0
	case x == "":
		return -1
	case y == "":
		return 1
	case x < y:
		return -1
	default:
		return 1
	}
}
