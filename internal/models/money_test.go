package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyMarshalsTwoPlaces(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10", `"10.00"`},
		{"5.5", `"5.50"`},
		{"10.99", `"10.99"`},
		{"0", `"0.00"`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			raw, err := json.Marshal(NewMoney(decimal.RequireFromString(tt.in)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(raw))
		})
	}
}

func TestMoneyDecodesCachedValues(t *testing.T) {
	var v struct {
		Price Money `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":"7.50"}`), &v))
	assert.Equal(t, "7.50", v.Price.StringFixed(2))
}
