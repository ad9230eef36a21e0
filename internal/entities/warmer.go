package entities

// Instance is one paired WhatsApp number owned by a tenant.
type Instance struct {
	ID       string `json:"instance_id"`
	TenantID int    `json:"tenant_id"`
	JID      string `json:"jid"`
}

// Warmer exchanges scripted messages between a tenant's own instances.
type Warmer struct {
	ID        int64    `json:"id"`
	TenantID  int      `json:"tenant_id"`
	Instances []string `json:"instances"`
	Active    bool     `json:"is_active"`
	Scripts   []string `json:"scripts"`
}
