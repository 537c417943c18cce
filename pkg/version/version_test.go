package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommit(t *testing.T) {
	noInfo := func() (*debug.BuildInfo, bool) { return nil, false }

	assert.Equal(t, "dev", resolveCommit("", noInfo))
	assert.Equal(t, "abc", resolveCommit("abc", noInfo))
	assert.Equal(t, "a3f8c2d1", resolveCommit("a3f8c2d1e99", noInfo))

	withRev := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
		}}, true
	}
	assert.Equal(t, "01234567", resolveCommit("", withRev))
	// An override wins over VCS metadata.
	assert.Equal(t, "feedface", resolveCommit("feedface", withRev))
}

func TestFull(t *testing.T) {
	assert.Equal(t, AppName+"/"+GitCommit, Full())
}
