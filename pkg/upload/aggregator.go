package upload

import (
	"sort"
	"sync"
)

// Aggregator collects results from concurrent workers. It only ever grows.
type Aggregator struct {
	mu      sync.Mutex
	results []Result
	skips   []Skip
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Record(r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

func (a *Aggregator) RecordSkip(s Skip) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skips = append(a.skips, s)
}

// Summary returns a snapshot sorted by file then server.
func (a *Aggregator) Summary() *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &Summary{
		Results: append([]Result(nil), a.results...),
		Skips:   append([]Skip(nil), a.skips...),
	}
	for _, r := range s.Results {
		if r.Status == StatusSuccess {
			s.Success++
		} else {
			s.Failed++
		}
	}
	s.Total = s.Success + s.Failed
	s.Skipped = len(s.Skips)

	sort.SliceStable(s.Results, func(i, j int) bool {
		if s.Results[i].FilePath != s.Results[j].FilePath {
			return s.Results[i].FilePath < s.Results[j].FilePath
		}
		return s.Results[i].Server < s.Results[j].Server
	})
	sort.SliceStable(s.Skips, func(i, j int) bool {
		if s.Skips[i].FilePath != s.Skips[j].FilePath {
			return s.Skips[i].FilePath < s.Skips[j].FilePath
		}
		return s.Skips[i].Server < s.Skips[j].Server
	})
	return s
}
