package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Configuration ConfigurationService
	CSID          CSIDService
	Pipeline      InvoicePipeline
	Reports       ReportService
	Compliance    ComplianceTestService
	Gatherer      prometheus.Gatherer // nil = sin /metrics
	ServiceName   string
	JWTSecret     string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": deps.ServiceName})
	})
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Rutas protegidas (requieren Bearer Token)
	api := app.Group("/api/zatca", AuthMiddleware(deps.JWTSecret))

	cfgHandler := NewConfigurationHandler(deps.Configuration)
	api.Get("/configuration", cfgHandler.Get)
	api.Post("/configuration", cfgHandler.Save)
	api.Post("/test-connection", cfgHandler.TestConnection)
	api.Post("/validate-configuration", cfgHandler.Validate)

	csidHandler := NewCSIDHandler(deps.CSID)
	api.Get("/csid", csidHandler.Status)
	api.Post("/csid", csidHandler.Request)
	api.Post("/csid/renew", csidHandler.Renew)

	// Generación y envío solo con la integración activa
	invoiceHandler := NewInvoiceHandler(deps.Pipeline, deps.Reports)
	invoices := api.Group("/invoices")
	invoices.Post("/generate/:invoiceId", RequireZatcaEnabled(deps.Configuration), invoiceHandler.Generate)
	invoices.Post("/submit/:zatcaInvoiceId", RequireZatcaEnabled(deps.Configuration), invoiceHandler.Submit)
	invoices.Post("/:id/cancel", invoiceHandler.Cancel)
	invoices.Get("/", invoiceHandler.List)
	invoices.Get("/:id", invoiceHandler.GetByID)
	invoices.Get("/:id/pdf", invoiceHandler.PDF)

	reportHandler := NewReportHandler(deps.Reports)
	api.Get("/statistics", reportHandler.Statistics)
	api.Post("/reports/tax", reportHandler.TaxReport)
	api.Post("/reports/vat-return", reportHandler.VATReturn)

	complianceHandler := NewComplianceHandler(deps.Compliance)
	api.Post("/compliance/test", complianceHandler.Test)
	api.Get("/compliance/summary", complianceHandler.Summary)
}
