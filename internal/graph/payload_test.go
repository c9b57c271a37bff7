package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayload_DTKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload Payload
		want    []string
	}{
		{"Nil", nil, nil},
		{"Missing", Payload{"other": 1}, nil},
		{"NotAList", Payload{"dt_keys": "R1"}, nil},
		{"MixedElements", Payload{"dt_keys": []any{"R1", 3, nil, "R2"}}, []string{"R1", "R2"}},
		{"StringSlice", Payload{"dt_keys": []string{"a"}}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.payload.DTKeys())
		})
	}
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	for _, v := range []any{nil, false, "", 0.0, 0, []any{}, map[string]any{}} {
		assert.False(t, Truthy(v), "%#v", v)
	}
	for _, v := range []any{true, "x", 1.5, []any{nil}, map[string]any{"a": nil}, struct{}{}} {
		assert.True(t, Truthy(v), "%#v", v)
	}
}

func TestStitchFilter_Matches(t *testing.T) {
	t.Parallel()

	c := &StitchCandidate{FileObjectID: 1, ExtractedObjectID: 2, Status: StatusAccepted}
	assert.True(t, StitchFilter{}.Matches(c))
	assert.True(t, StitchFilter{FileObjectID: 1, Status: StatusAccepted}.Matches(c))
	assert.False(t, StitchFilter{FileObjectID: 9}.Matches(c))
	assert.False(t, StitchFilter{ExtractedObjectID: 9}.Matches(c))
	assert.False(t, StitchFilter{Status: StatusCandidate}.Matches(c))
}
