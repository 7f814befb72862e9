package upload

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregatorConcurrentRecord(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := StatusSuccess
			if i%5 == 0 {
				status = StatusFail
			}
			agg.Record(Result{FilePath: fmt.Sprintf("/proj/f%02d.js", i), Server: "web1", Status: status})
		}()
	}
	agg.RecordSkip(Skip{FilePath: "/proj/x.ts", Reason: "missing"})
	wg.Wait()

	s := agg.Summary()
	assert.Equal(t, 50, s.Total)
	assert.Equal(t, 40, s.Success)
	assert.Equal(t, 10, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, s.Total, s.Success+s.Failed)
	assert.Equal(t, "/proj/f00.js", s.Results[0].FilePath)
	assert.Equal(t, "/proj/f49.js", s.Results[49].FilePath)
	assert.Len(t, s.Failures(), 10)
}

func TestAggregatorSnapshotIsIndependent(t *testing.T) {
	agg := NewAggregator()
	agg.Record(Result{FilePath: "/a", Status: StatusSuccess})
	first := agg.Summary()

	agg.Record(Result{FilePath: "/b", Status: StatusFail})
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, 2, agg.Summary().Total)
}
