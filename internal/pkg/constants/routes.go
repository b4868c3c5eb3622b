package constants

// Route constants
const (
	APIRoute   = "/api"
	APIv1Route = "/api/v1"
	DocsRoute  = "/docs/api/"

	PaymentsRoute    = "/payments"
	RefundsRoute     = "/refunds"
	SettlementsRoute = "/settlements"
	WebhooksRoute    = "/webhooks"
	AdminRoute       = "/admin"
)

// Request headers
const (
	HeaderAdminKey         = "X-Admin-Key"
	HeaderGatewaySignature = "X-Razorpay-Signature"
	HeaderGatewayEventID   = "X-Razorpay-Event-Id"
)

// Locals keys
const (
	LocalIsAdmin = "IS_ADMIN"
)
