package zatca

import "fmt"

// ValidateVATNumber exige exactamente 15 dígitos ASCII.
func ValidateVATNumber(v string) error {
	return exactDigits("número de IVA", v, 15)
}

// ValidateBranchCode exige exactamente 3 dígitos.
func ValidateBranchCode(v string) error {
	return exactDigits("código de sucursal", v, 3)
}

// ValidateDeviceID exige exactamente 6 dígitos.
func ValidateDeviceID(v string) error {
	return exactDigits("id de dispositivo", v, 6)
}

func exactDigits(field, v string, n int) error {
	if v == "" {
		return fmt.Errorf("zatca: %s requerido", field)
	}
	if len(v) != n {
		return fmt.Errorf("zatca: %s debe tener exactamente %d dígitos, tiene %d caracteres", field, n, len(v))
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fmt.Errorf("zatca: %s solo admite dígitos", field)
		}
	}
	return nil
}
