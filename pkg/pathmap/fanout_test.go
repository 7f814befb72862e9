package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanout(t *testing.T) {
	tests := []struct {
		name     string
		resolved string
		base     string
		remotes  []string
		want     []string
	}{
		{
			name:     "compiled output to two sites",
			resolved: "/proj/dist/src/a.js",
			base:     "/proj/dist",
			remotes:  []string{"/site1", "/site2"},
			want:     []string{"/site1/src/a.js", "/site2/src/a.js"},
		},
		{
			name:     "order follows remote dirs",
			resolved: "/proj/index.html",
			base:     "/proj",
			remotes:  []string{"/z/", "/a"},
			want:     []string{"/z/index.html", "/a/index.html"},
		},
		{
			name:     "trailing slash on base",
			resolved: "/proj/x/y.txt",
			base:     "/proj/",
			remotes:  []string{"/home/TEClient/dir1/"},
			want:     []string{"/home/TEClient/dir1/x/y.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fanout(tt.resolved, tt.base, tt.remotes))
		})
	}
}

func TestFanoutOutsideBaseIsEmpty(t *testing.T) {
	assert.Empty(t, Fanout("/other/a.js", "/proj", []string{"/site1"}))
	assert.Empty(t, Fanout("/proj", "/proj", []string{"/site1"}))
	assert.Empty(t, Fanout("/projector/a.js", "/proj", []string{"/site1"}))
}
