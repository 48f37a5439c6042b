package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "think block", in: "<think>\nhmm {no}\n</think>\n{\"a\":1}", want: `{"a":1}`},
		{name: "surrounding prose", in: `Sure! Here you go: {"a":{"b":2}} Hope that helps.`, want: `{"a":{"b":2}}`},
		{name: "no object", in: "  nothing here ", want: "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}
