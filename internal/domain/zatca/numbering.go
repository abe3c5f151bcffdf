package zatca

import (
	"fmt"
	"time"
)

// FormatInvoiceNumber número ZATCA {branch}-{device}-{YYYYMMDD}-{counter:09d}.
// Device vacío (phase1) se omite.
func FormatInvoiceNumber(branch, device string, issued time.Time, counter int64) string {
	date := issued.Format("20060102")
	if device == "" {
		return fmt.Sprintf("%s-%s-%09d", branch, date, counter)
	}
	return fmt.Sprintf("%s-%s-%s-%09d", branch, device, date, counter)
}
