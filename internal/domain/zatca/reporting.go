package zatca

import "time"

// ReportingDeadline plazo para reportar una factura simplificada desde su emisión.
const ReportingDeadline = 24 * time.Hour

// ReportingDue indica si la factura sigue dentro del plazo de reporte en now.
func ReportingDue(issuedAt, now time.Time) bool {
	return now.Before(issuedAt.Add(ReportingDeadline))
}

// IsDeadlineMissed indica si el plazo de reporte ya venció.
func IsDeadlineMissed(issuedAt, now time.Time) bool {
	return !ReportingDue(issuedAt, now)
}
