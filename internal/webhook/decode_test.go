package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventWith(eventType, data string) *Event {
	return &Event{ID: "evt_1", Type: eventType, Data: json.RawMessage(data)}
}

func TestDecodeCheckoutCompleted(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantErr   bool
		wantField string
		want      *CheckoutCompleted
	}{
		{
			name: "ids as strings",
			data: `{"id":"cs_1","customer":"cus_1","subscription":"sub_1","payment_status":"paid"}`,
			want: &CheckoutCompleted{SessionID: "cs_1", CustomerID: "cus_1", SubscriptionID: "sub_1", PaymentStatus: "paid"},
		},
		{
			name: "expanded objects",
			data: `{"id":"cs_2","customer":{"id":"cus_2","object":"customer"},"subscription":{"id":"sub_2","object":"subscription"}}`,
			want: &CheckoutCompleted{SessionID: "cs_2", CustomerID: "cus_2", SubscriptionID: "sub_2"},
		},
		{
			name:      "missing customer",
			data:      `{"id":"cs_3","subscription":"sub_3"}`,
			wantErr:   true,
			wantField: "customer",
		},
		{
			name:      "missing subscription",
			data:      `{"id":"cs_4","customer":"cus_4","mode":"payment"}`,
			wantErr:   true,
			wantField: "subscription",
		},
		{
			name:      "missing session id",
			data:      `{"customer":"cus_5","subscription":"sub_5"}`,
			wantErr:   true,
			wantField: "id",
		},
		{
			name:      "empty data",
			data:      ``,
			wantErr:   true,
			wantField: "data.object",
		},
		{
			name:      "wrong shape",
			data:      `[1,2,3]`,
			wantErr:   true,
			wantField: "data.object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCheckoutCompleted(eventWith(TypeCheckoutCompleted, tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedPayload)
				var de *DecodeError
				require.ErrorAs(t, err, &de)
				assert.Equal(t, tt.wantField, de.Field)
				assert.Equal(t, TypeCheckoutCompleted, de.Type)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInvoice(t *testing.T) {
	inv, err := DecodeInvoice(eventWith(TypeInvoicePaid, `{
		"id": "in_1",
		"customer": "cus_1",
		"parent": {"type": "subscription_details", "subscription_details": {"subscription": "sub_1"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "in_1", inv.ID)
	assert.Equal(t, "cus_1", inv.CustomerID)
	assert.Equal(t, "sub_1", inv.SubscriptionID)

	inv, err = DecodeInvoice(eventWith(TypeInvoicePaymentFailed, `{"id":"in_2","customer":"cus_2"}`))
	require.NoError(t, err)
	assert.Equal(t, "cus_2", inv.CustomerID)
	assert.Empty(t, inv.SubscriptionID)

	_, err = DecodeInvoice(eventWith(TypeInvoicePaid, `{"id":"in_3"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodeErrorMessage(t *testing.T) {
	err := &DecodeError{Type: TypeInvoicePaid, Field: "customer"}
	assert.Equal(t, "malformed webhook payload for invoice.paid: customer", err.Error())
}
