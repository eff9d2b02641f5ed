package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestExtract(t *testing.T) {

	tests := []struct {
		name string
		body string
		want Envelope
	}{
		{
			name: "orderId побеждает id",
			body: `{"orderId":"o-1","id":"evt-1","merchantId":"m-1","fullCode":"placed"}`,
			want: Envelope{OrderID: "o-1", MerchantID: "m-1", EventCode: "PLACED"},
		},
		{
			name: "продавец из объекта merchant",
			body: `{"id":"o-1","merchant":{"id":"m-2"},"code":"CON"}`,
			want: Envelope{OrderID: "o-1", MerchantID: "m-2", EventCode: "CON"},
		},
		{
			name: "продавец из списка merchantIds",
			body: `{"id":"o-1","merchantIds":["m-3","m-4"],"status":"DISPATCHED"}`,
			want: Envelope{OrderID: "o-1", MerchantID: "m-3", EventCode: "DISPATCHED"},
		},
		{
			name: "пустые строки пропускаются",
			body: `{"orderId":"","id":"o-1","merchantId":" ","merchant":{"id":"m-5"},"fullCode":"","eventType":"CONFIRMED"}`,
			want: Envelope{OrderID: "o-1", MerchantID: "m-5", EventCode: "CONFIRMED"},
		},
		{
			name: "подсказка о предыдущем статусе",
			body: `{"orderId":"o-1","merchantId":"m-1","fullCode":"CONFIRMED","metadata":{"triggerEvent":{"previousStatus":"placed"}}}`,
			want: Envelope{OrderID: "o-1", MerchantID: "m-1", EventCode: "CONFIRMED", PreviousStatus: "PLACED"},
		},
		{
			name: "объект вместо id не считается",
			body: `{"orderId":{"value":"o-1"},"merchantId":123,"fullCode":"PLACED"}`,
			want: Envelope{MerchantID: "123", EventCode: "PLACED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extract(gjson.Parse(tt.body)))
		})
	}
}

func TestHasFullOrder(t *testing.T) {

	assert.True(t, hasFullOrder(gjson.Parse(`{"id":"o-1","items":[]}`)))
	assert.True(t, hasFullOrder(gjson.Parse(`{"id":"o-1","merchant":{"id":"m"},"customer":{"id":"c"}}`)))
	assert.False(t, hasFullOrder(gjson.Parse(`{"id":"o-1","merchant":{"id":"m"}}`)))
	assert.False(t, hasFullOrder(gjson.Parse(`{"orderId":"o-1","merchantId":"m-1","fullCode":"PLACED"}`)))
}
