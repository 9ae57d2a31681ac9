package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"Hello.md":                       "/hello.md",
		"Samples/CoolStuff.md":           "/samples/coolstuff.md",
		`subdirectory\deeper\Another.md`: "/subdirectory/deeper/another.md",
		"./notes/a.md":                   "/notes/a.md",
		"/already/rooted.MD":             "/already/rooted.md",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeID(in), in)
	}
}
