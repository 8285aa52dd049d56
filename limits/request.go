package limits

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A single (limit name, weight) pair requested by a job. Name is always lower case.
type Request struct {
	Name   string
	Weight float64
}

func (r Request) String() string {
	if r.Weight == 1 {
		return r.Name
	}
	return r.Name + ":" + strconv.FormatFloat(r.Weight, 'g', -1, 64)
}

// ParseRequests parses a concurrency_limits attribute such as "XSW, small.license:2".
// Tokens are comma separated, each NAME (weight 1) or NAME:WEIGHT with WEIGHT > 0.
// Names compare case-insensitively and may not repeat.
func ParseRequests(attr string) ([]Request, error) {
	reqs := []Request{}
	seen := map[string]bool{}
	for _, token := range strings.Split(attr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, weightStr := token, ""
		if idx := strings.Index(token, ":"); idx >= 0 {
			name, weightStr = strings.TrimSpace(token[:idx]), strings.TrimSpace(token[idx+1:])
		}
		if name == "" {
			return nil, errors.Errorf("concurrency limit %q has no name", token)
		}
		name = strings.ToLower(name)
		if strings.ContainsAny(name, " \t:") {
			return nil, errors.Errorf("invalid concurrency limit name %q", name)
		}

		weight := 1.0
		if weightStr != "" {
			w, err := strconv.ParseFloat(weightStr, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid weight for concurrency limit %s", name)
			}
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, errors.Errorf("weight for concurrency limit %s must be a finite number, got %v", name, w)
			}
			if w <= 0 {
				return nil, errors.Errorf("weight for concurrency limit %s must be positive, got %v", name, w)
			}
			weight = w
		}

		if seen[name] {
			return nil, errors.Errorf("concurrency limit %s requested more than once", name)
		}
		seen[name] = true
		reqs = append(reqs, Request{Name: name, Weight: weight})
	}
	return reqs, nil
}

// ValidWeight reports whether w can be added to a ledger counter.
func ValidWeight(w float64) bool {
	return w > 0 && !math.IsInf(w, 0)
}

// FormatRequests renders requests back into attribute form.
func FormatRequests(reqs []Request) string {
	parts := make([]string, len(reqs))
	for i, r := range reqs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
