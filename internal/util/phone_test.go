package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"(555) 123-4567":    "+15551234567",
		"1 555 123 4567":    "+15551234567",
		"+44 20 7946 0958":  "+442079460958",
		"0044 20 7946 0958": "+442079460958",
		"  ":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}
