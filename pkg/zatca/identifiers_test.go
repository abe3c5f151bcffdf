package zatca_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

func TestValidateVATNumber(t *testing.T) {
	cases := []struct {
		name  string
		value string
		ok    bool
	}{
		{"15 dígitos", "300000000000003", true},
		{"14 dígitos", "30000000000000", false},
		{"16 dígitos", "3000000000000033", false},
		{"con letra", "30000000000000A", false},
		{"vacío", "", false},
		{"dígitos árabes", "٣٠٠٠٠٠٠٠٠٠٠٠٠٠٣", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := zatca.ValidateVATNumber(tc.value)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateBranchYDevice(t *testing.T) {
	assert.NoError(t, zatca.ValidateBranchCode("001"))
	assert.Error(t, zatca.ValidateBranchCode("01"))
	assert.NoError(t, zatca.ValidateDeviceID("123456"))
	assert.Error(t, zatca.ValidateDeviceID("12345a"))
}

func TestPaymentMeansCode_Desconocido(t *testing.T) {
	assert.Equal(t, "10", zatca.PaymentMeansCode("CASH"))
	assert.Equal(t, "1", zatca.PaymentMeansCode("TRUEQUE"))
}

func TestBaseURLFor(t *testing.T) {
	assert.Contains(t, zatca.BaseURLFor(zatca.EnvProduction), "/core")
	assert.Equal(t, zatca.BaseURLFor(zatca.EnvSandbox), zatca.BaseURLFor("desconocido"))
}
