package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregraph/sentinel/internal/fact"
)

func TestApplySets(t *testing.T) {
	base := fact.StateFields{
		CareState:         "STABLE",
		EmergencyState:    "NONE",
		ConnectivityState: "ONLINE",
	}

	tests := []struct {
		name string
		sets []string
		want fact.StateFields
	}{
		{
			name: "no_sets_keeps_base",
			sets: nil,
			want: base,
		},
		{
			name: "single_field",
			sets: []string{"care_state=ELEVATED"},
			want: fact.StateFields{CareState: "ELEVATED", EmergencyState: "NONE", ConnectivityState: "ONLINE"},
		},
		{
			name: "all_fields",
			sets: []string{"care_state=CRITICAL", "emergency_state=ACTIVE", "connectivity_state=OFFLINE"},
			want: fact.StateFields{CareState: "CRITICAL", EmergencyState: "ACTIVE", ConnectivityState: "OFFLINE"},
		},
		{
			name: "last_write_wins",
			sets: []string{"care_state=ELEVATED", "care_state=CRITICAL"},
			want: fact.StateFields{CareState: "CRITICAL", EmergencyState: "NONE", ConnectivityState: "ONLINE"},
		},
		{
			name: "value_may_contain_equals",
			sets: []string{"care_state=A=B"},
			want: fact.StateFields{CareState: "A=B", EmergencyState: "NONE", ConnectivityState: "ONLINE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applySets(base, tt.sets)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplySets_Errors(t *testing.T) {
	base := fact.StateFields{CareState: "STABLE"}

	_, err := applySets(base, []string{"care_state"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")

	_, err = applySets(base, []string{"mood=GRUMPY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestDescribeChange(t *testing.T) {
	before := fact.StateFields{CareState: "STABLE", EmergencyState: "NONE", ConnectivityState: "ONLINE"}

	assert.Equal(t, "(no field changes)", describeChange(before, before))

	one := before
	one.CareState = "ELEVATED"
	assert.Equal(t, "care STABLE->ELEVATED", describeChange(before, one))

	two := one
	two.ConnectivityState = "OFFLINE"
	assert.Equal(t, "care STABLE->ELEVATED, connectivity ONLINE->OFFLINE", describeChange(before, two))
}
