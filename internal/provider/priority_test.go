package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Priority
		wantErr bool
	}{
		{name: "critical", input: "critical", want: PriorityCritical},
		{name: "high", input: "high", want: PriorityHigh},
		{name: "normal", input: "normal", want: PriorityNormal},
		{name: "low", input: "low", want: PriorityLow},
		{name: "backup", input: "backup", want: PriorityBackup},
		{name: "empty defaults to normal", input: "", want: PriorityNormal},
		{name: "unknown", input: "urgent", want: PriorityNormal, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := ParsePriority(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestPriorityString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "backup", PriorityBackup.String())
	assert.Equal(t, "unknown", Priority(42).String())
}

func TestPriorityValid(t *testing.T) {
	t.Parallel()

	assert.True(t, PriorityCritical.Valid())
	assert.True(t, PriorityBackup.Valid())
	assert.False(t, Priority(-1).Valid())
	assert.False(t, Priority(42).Valid())
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	assert.Less(t, PriorityCritical, PriorityHigh)
	assert.Less(t, PriorityHigh, PriorityNormal)
	assert.Less(t, PriorityNormal, PriorityLow)
	assert.Less(t, PriorityLow, PriorityBackup)
}
