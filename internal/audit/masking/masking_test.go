package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "rzp_****", MaskSecret("rzp_abc"))
	assert.Equal(t, "whsec_****5678", MaskSecret("whsec_12345678"))
	assert.Equal(t, "****wxyz", MaskSecret("abcdefwxyz"))
}

func TestMaskSensitiveOnlyTouchesSecretKeys(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"payment_id": "pay_29QQoUBi66xm2f",
		"signature":  "9ef4dffbfd84f1318f6739a3ce19f9d85851857ae648f114332d8401e0949a3d",
		"amount":     22500,
		"":           "dropped",
	})

	assert.Equal(t, "pay_29QQoUBi66xm2f", out["payment_id"])
	assert.Equal(t, 22500, out["amount"])
	assert.Equal(t, "****9a3d", out["signature"])
	assert.NotContains(t, out, "")
}

func TestMaskSensitiveMatchesSuffixesAndNesting(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"Webhook_Secret": "whsec_abcdef123456",
		"gateway": map[string]any{
			"order_id":     "order_T1",
			"access_token": "eyJhbGciOi.payload.sig99",
		},
		"otp_code": 1234,
		"password": 98765,
	})

	assert.Equal(t, "whsec_****3456", out["Webhook_Secret"])
	gateway := out["gateway"].(map[string]any)
	assert.Equal(t, "order_T1", gateway["order_id"])
	assert.Equal(t, "****ig99", gateway["access_token"])
	assert.Equal(t, 1234, out["otp_code"])
	assert.Equal(t, "****", out["password"])
}
