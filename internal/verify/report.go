package verify

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Report is the outcome of a verification run
type Report struct {
	Results []Result `json:"results"`
	Passed  int      `json:"passed"`
	Total   int      `json:"total"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Total++
	if res.Passed {
		r.Passed++
	}
}

// Fail records an assertion that could not be evaluated
func (r *Report) Fail(a Assertion, detail string) {
	r.add(Result{Assertion: a, Detail: detail})
}

// Failed returns the failing results
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Meets reports whether the run satisfies threshold
func (r *Report) Meets(threshold Threshold) bool {
	return threshold.Met(r.Passed, r.Total)
}

// Threshold is the pass criterion of a verification run
type Threshold struct {
	all     bool
	count   int
	percent float64
}

// AllPass requires every assertion to pass
var AllPass = Threshold{all: true}

// ParseThreshold parses "all", an absolute count "N" or a percentage "P%"
func ParseThreshold(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "all"):
		return AllPass, nil
	case strings.HasSuffix(s, "%"):
		p, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil || p < 0 || p > 100 {
			return Threshold{}, fmt.Errorf("invalid percentage threshold %q", s)
		}
		return Threshold{percent: p}, nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Threshold{}, fmt.Errorf("invalid threshold %q: want all, N or P%%", s)
		}
		return Threshold{count: n}, nil
	}
}

// Met reports whether passed out of total satisfies the threshold
func (t Threshold) Met(passed, total int) bool {
	switch {
	case t.all:
		return passed == total
	case t.percent > 0:
		if total == 0 {
			return true
		}
		return float64(passed) >= math.Ceil(t.percent*float64(total)/100)
	default:
		return passed >= t.count
	}
}

// Required returns how many of total must pass
func (t Threshold) Required(total int) int {
	switch {
	case t.all:
		return total
	case t.percent > 0:
		return int(math.Ceil(t.percent * float64(total) / 100))
	default:
		return t.count
	}
}

func (t Threshold) String() string {
	switch {
	case t.all:
		return "all"
	case t.percent > 0:
		return strconv.FormatFloat(t.percent, 'f', -1, 64) + "%"
	default:
		return strconv.Itoa(t.count)
	}
}
