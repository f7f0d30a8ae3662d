package security

// In-memory client registry (replace with DB/config later)
type Client struct {
	ID      string
	Secret  string
	Perms   []string // e.g. {"orders.read","checkout.write","payments.admin"}
	Enabled bool
}

var Clients = map[string]Client{
	"storefront":  {ID: "storefront", Secret: "storefront-secret", Perms: []string{"orders.read", "orders.write", "checkout.write"}, Enabled: true},
	"back-office": {ID: "back-office", Secret: "back-office-secret", Perms: []string{"orders.read", "orders.write", "checkout.write", "payments.admin"}, Enabled: true},
	"svc-reports": {ID: "svc-reports", Secret: "reports-secret", Perms: []string{"orders.read"}, Enabled: true},
}
