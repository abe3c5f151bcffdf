package entity

import "time"

// CSIDValidity vigencia de un CSID desde su emisión.
const CSIDValidity = 365 * 24 * time.Hour

// ZatcaConfiguration configuración ZATCA de un tenant (una por empresa).
type ZatcaConfiguration struct {
	ID                  string
	CompanyID           string
	Enabled             bool
	Phase               string // phase1 | phase2
	Environment         string // sandbox | simulation | production
	APIEndpoint         string // phase1 obligatorio; phase2 opcional (URL del ambiente por defecto)
	APIKey              string
	APISecret           string
	CertificatePath     string // PEM o .p12
	PrivateKeyPath      string // PEM; vacío si CertificatePath es .p12
	CertificatePassword string
	TaxNumber           string // 15 dígitos
	BranchCode          string // 3 dígitos
	DeviceID            string // 6 dígitos
	ComplianceCheck     bool   // compliance-check previo a clearance/reporting (phase2)

	CSIDToken       string
	CSIDSecret      string
	CSIDRequestID   string
	CSIDDisposition string
	CSIDStatus      string // NOT_SET, PENDING, ISSUED
	CSIDIssuedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CSIDExpiresAt fecha de expiración del CSID, nil si nunca se emitió.
func (c *ZatcaConfiguration) CSIDExpiresAt() *time.Time {
	if c.CSIDIssuedAt == nil {
		return nil
	}
	exp := c.CSIDIssuedAt.Add(CSIDValidity)
	return &exp
}

// HasValidCSID indica si hay token+secret emitidos y no expirados en now.
func (c *ZatcaConfiguration) HasValidCSID(now time.Time) bool {
	if c.CSIDToken == "" || c.CSIDSecret == "" || c.CSIDStatus != "ISSUED" {
		return false
	}
	exp := c.CSIDExpiresAt()
	return exp != nil && now.Before(*exp)
}
