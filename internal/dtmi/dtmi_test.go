package dtmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDTMI(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDTMI("dtmi:com:example:Node;1"))
	assert.True(t, IsDTMI("dtmi:"))
	assert.False(t, IsDTMI("part-1"))
	assert.False(t, IsDTMI("DTMI:com:example;1"))
	assert.False(t, IsDTMI(""))
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("Canonical", func(t *testing.T) {
		t.Parallel()
		id, err := Parse("dtmi:com:example:Pump;12")
		require.NoError(t, err)
		assert.Equal(t, []string{"com", "example", "Pump"}, id.Path)
		assert.Equal(t, 12, id.Version)
		assert.Equal(t, "dtmi:com:example:Pump;12", id.String())
	})

	t.Run("Rejected", func(t *testing.T) {
		t.Parallel()
		cases := []string{
			"com:example:Pump;1",
			"dtmi:com:example:Pump",
			"dtmi:com:example:Pump;0",
			"dtmi:com:example:Pump;-3",
			"dtmi:com:example:Pump;v1",
			"dtmi:com::Pump;1",
			"dtmi:1com:Pump;1",
			"dtmi:com:Pump_;1",
			"dtmi:com:Pu-mp;1",
			"dtmi:;1",
		}
		for _, c := range cases {
			_, err := Parse(c)
			assert.Error(t, err, c)
			assert.False(t, IsCanonical(c), c)
		}
	})

	t.Run("UnderscoresAndDigits", func(t *testing.T) {
		t.Parallel()
		assert.True(t, IsCanonical("dtmi:com:acme_corp:Pump2;3"))
	})
}
