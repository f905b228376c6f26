package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		pct      uint64
		gross    uint64
		owner    uint64
		protocol uint64
	}{
		{"ten percent", FeePrecision / 10, 1000, 900, 100},
		{"zero percent", 0, 1000, 1000, 0},
		{"full skim", FeePrecision, 1000, 0, 1000},
		{"rounds protocol share down", FeePrecision / 10, 999, 900, 99},
		{"one unit", FeePrecision / 10, 1, 1, 0},
		{"zero gross", FeePrecision / 10, 0, 0, 0},
		{"max gross full skim", FeePrecision, math.MaxUint64, 0, math.MaxUint64},
		{"max gross ten percent", FeePrecision / 10, math.MaxUint64, 16602069666338596454, 1844674407370955161},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instrument := PaymentInstrument{ID: NativeInstrument, FeePercentage: tt.pct}
			owner, protocol, err := instrument.Split(tt.gross)
			require.NoError(t, err)
			require.Equal(t, tt.owner, owner)
			require.Equal(t, tt.protocol, protocol)
			require.Equal(t, tt.gross, owner+protocol)
		})
	}

	t.Run("percentage above precision is rejected", func(t *testing.T) {
		instrument := PaymentInstrument{FeePercentage: FeePrecision + 1}
		_, _, err := instrument.Split(1000)
		require.Error(t, err)
	})
}

func TestCheckedAdd(t *testing.T) {
	sum, err := CheckedAdd(math.MaxUint64-1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), sum)

	_, err = CheckedAdd(math.MaxUint64, 1)
	require.Error(t, err)
}

func TestIsApprovedOrOwner(t *testing.T) {
	record := OwnershipRecord{
		Asset:    7,
		Holder:   "0xaaa",
		Approved: "0xbbb",
	}

	require.True(t, record.IsApprovedOrOwner("0xaaa", false))
	require.True(t, record.IsApprovedOrOwner("0xbbb", false))
	require.True(t, record.IsApprovedOrOwner("0xccc", true))
	require.False(t, record.IsApprovedOrOwner("0xccc", false))
	require.False(t, record.IsApprovedOrOwner(ZeroAddress, true))
}

func TestClearTransientRights(t *testing.T) {
	record := OwnershipRecord{
		Asset:    7,
		Holder:   "0xaaa",
		Approved: "0xbbb",
		Consumer: "0xccc",
	}
	record.ClearTransientRights()
	require.Equal(t, ZeroAddress, record.Approved)
	require.Equal(t, ZeroAddress, record.Consumer)
	require.Equal(t, Address("0xaaa"), record.Holder)
}
