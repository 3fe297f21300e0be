package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElementSelector(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"12", `[shinpads-id="12"]`},
		{"a-b", `[shinpads-id="a-b"]`},
		{`1"],body,[x="`, `[shinpads-id="1\"],body,[x=\""]`},
		{`back\slash`, `[shinpads-id="back\\slash"]`},
		{"line\nbreak", `[shinpads-id="line\a break"]`},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ElementSelector(tt.id))
		})
	}
}
