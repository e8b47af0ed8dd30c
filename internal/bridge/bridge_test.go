package bridge

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValenciaLim/arcdrop/internal/domain"
)

func TestBridgeCrossNetwork(t *testing.T) {
	res, err := NewStub().Bridge(context.Background(), decimal.NewFromInt(10), domain.NetworkBase, domain.NetworkPolygon)
	require.NoError(t, err)
	require.NotNil(t, res.TxHash)
	assert.Equal(t, "cctp-BASE-POLYGON-10", *res.TxHash)

	require.Len(t, res.Steps, 3)
	assert.Equal(t, StepBurned, res.Steps[0].Status)
	assert.Equal(t, res.TxHash, res.Steps[0].TxHash)
	assert.Equal(t, StepAttested, res.Steps[1].Status)
	assert.Nil(t, res.Steps[1].TxHash)
	assert.Equal(t, StepMinted, res.Steps[2].Status)
}

func TestBridgeFractionalAmount(t *testing.T) {
	res, err := NewStub().Bridge(context.Background(), decimal.RequireFromString("2.50"), domain.NetworkAvalanche, domain.NetworkBase)
	require.NoError(t, err)
	assert.Equal(t, "cctp-AVALANCHE-BASE-2.5", *res.TxHash)
}

func TestBridgeSameNetworkIsNoop(t *testing.T) {
	res, err := NewStub().Bridge(context.Background(), decimal.NewFromInt(5), domain.NetworkBase, domain.NetworkBase)
	require.NoError(t, err)
	assert.Nil(t, res.TxHash)
	assert.Empty(t, res.Steps)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		res, err := NewStub().Bridge(context.Background(), amount, domain.NetworkPolygon, domain.NetworkPolygon)
		require.NoError(t, err, "amount %s", amount)
		assert.Nil(t, res.TxHash)
		assert.Empty(t, res.Steps)
	}
}

func TestBridgeValidation(t *testing.T) {
	tests := []struct {
		name    string
		amount  decimal.Decimal
		src     domain.Network
		dst     domain.Network
		wantErr error
	}{
		{name: "zero amount", amount: decimal.Zero, src: domain.NetworkBase, dst: domain.NetworkPolygon, wantErr: ErrInvalidAmount},
		{name: "negative amount", amount: decimal.NewFromInt(-3), src: domain.NetworkBase, dst: domain.NetworkPolygon, wantErr: ErrInvalidAmount},
		{name: "unknown source", amount: decimal.NewFromInt(1), src: "ETHEREUM", dst: domain.NetworkPolygon, wantErr: ErrInvalidNetwork},
		{name: "unknown destination", amount: decimal.NewFromInt(1), src: domain.NetworkBase, dst: "", wantErr: ErrInvalidNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStub().Bridge(context.Background(), tt.amount, tt.src, tt.dst)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
