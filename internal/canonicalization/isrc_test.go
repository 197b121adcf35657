package canonicalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeISRC(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"USRC17607839", "USRC17607839", true},
		{"us-rc1-76-07839", "USRC17607839", true},
		{" GB AYE 00 00001 ", "GBAYE0000001", true},
		{"DEA120000001", "DEA120000001", true},
		{"", "", false},
		{"n/a", "", false},
		{"USRC1760783", "", false},
		{"USRC176078390", "", false},
		{"1SRC17607839", "", false},
		{"USRC1760783X", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeISRC(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
