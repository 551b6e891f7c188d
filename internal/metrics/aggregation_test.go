package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAggregation(t *testing.T) {
	tests := []struct {
		in   string
		want Aggregation
	}{
		{"rate", Aggregation{Method: MethodRate}},
		{" avg ", Aggregation{Method: MethodAvg}},
		{"med", Aggregation{Method: MethodMed}},
		{"p(95)", Aggregation{Method: MethodPercentile, Arg: 95}},
		{"p(99.9)", Aggregation{Method: MethodPercentile, Arg: 99.9}},
		{"p( 50 )", Aggregation{Method: MethodPercentile, Arg: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAggregation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAggregation_Invalid(t *testing.T) {
	for _, in := range []string{"", "mean", "p(abc)", "p(101)", "p(-1)", "p95"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAggregation(in)
			assert.Error(t, err)
		})
	}
}

func TestAggregationString(t *testing.T) {
	assert.Equal(t, "p(95)", Aggregation{Method: MethodPercentile, Arg: 95}.String())
	assert.Equal(t, "p(99.9)", Aggregation{Method: MethodPercentile, Arg: 99.9}.String())
	assert.Equal(t, "rate", Aggregation{Method: MethodRate}.String())
}
