package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want PaymentID
	}{
		{"numeric", `{"id": 123456789012}`, "123456789012"},
		{"string", `{"id": "pay_abc"}`, "pay_abc"},
		{"numeric string", `{"id": "42"}`, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ProviderPayment
			require.NoError(t, json.Unmarshal([]byte(tt.in), &p))
			assert.Equal(t, tt.want, p.ID)
		})
	}
}

func TestPaymentID_UnmarshalJSON_Invalid(t *testing.T) {
	var p ProviderPayment
	assert.Error(t, json.Unmarshal([]byte(`{"id": true}`), &p))
}

func TestPaymentID_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(PaymentID("42"))
	require.NoError(t, err)
	assert.Equal(t, `42`, string(b))

	b, err = json.Marshal(PaymentID("pay_abc"))
	require.NoError(t, err)
	assert.Equal(t, `"pay_abc"`, string(b))
}

func TestProviderPayment_RawJSON(t *testing.T) {
	raw := json.RawMessage(`{"id":1,"status":"approved","extra":true}`)
	p := &ProviderPayment{ID: "1", Status: "approved", Raw: raw}

	got, err := p.RawJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(got))

	p.Raw = nil
	got, err = p.RawJSON()
	require.NoError(t, err)
	assert.Contains(t, string(got), `"status":"approved"`)
}

func TestPurchase_LegacySelection(t *testing.T) {
	p := &Purchase{PaymentProviderData: json.RawMessage(`{"tickets_data":[{"ticketTypeId":"tt1","quantity":2}]}`)}
	assert.Equal(t, []TicketSelection{{TicketTypeID: "tt1", Quantity: 2}}, p.LegacySelection())

	assert.Nil(t, (&Purchase{}).LegacySelection())
	assert.Nil(t, (&Purchase{PaymentProviderData: json.RawMessage(`not json`)}).LegacySelection())
	assert.Nil(t, (&Purchase{PaymentProviderData: json.RawMessage(`{"status":"approved"}`)}).LegacySelection())
}

func TestMergeProviderData(t *testing.T) {
	sel := []TicketSelection{{TicketTypeID: "tt1", Quantity: 2}}

	t.Run("keeps existing tickets_data", func(t *testing.T) {
		current := json.RawMessage(`{"tickets_data":[{"ticketTypeId":"tt9","quantity":1}]}`)
		payment := json.RawMessage(`{"id":7,"status":"approved","tickets_data":[]}`)

		merged, err := MergeProviderData(current, payment, sel)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":7,"status":"approved","tickets_data":[{"ticketTypeId":"tt9","quantity":1}]}`, string(merged))
	})

	t.Run("falls back to given selection", func(t *testing.T) {
		merged, err := MergeProviderData(nil, json.RawMessage(`{"id":7}`), sel)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":7,"tickets_data":[{"ticketTypeId":"tt1","quantity":2}]}`, string(merged))
	})

	t.Run("no selection", func(t *testing.T) {
		merged, err := MergeProviderData(nil, json.RawMessage(`{"id":7}`), nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":7}`, string(merged))
	})

	t.Run("invalid payment", func(t *testing.T) {
		_, err := MergeProviderData(nil, json.RawMessage(`[1,2]`), sel)
		assert.Error(t, err)
	})
}

func TestPaymentStatus_Valid(t *testing.T) {
	for _, s := range []PaymentStatus{PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, PaymentStatus("approved").Valid())
}

func TestTicketType_Remaining(t *testing.T) {
	tt := &TicketType{QuantityAvailable: 10, QuantitySold: 7}
	assert.Equal(t, 3, tt.Remaining())

	tt.QuantitySold = 12
	assert.Equal(t, -2, tt.Remaining())
}
