// Package policy implements the Access Policy Engine from spec §4.4: an
// RBAC role graph evaluated first, falling through to ABAC attribute
// policies (evaluated via OPA/Rego) when no role grants access.
package policy

// Role is the RBAC entity from spec §3.
type Role struct {
	ID                  string
	Permissions         map[string]bool
	ResourceTypes       map[string]bool
	DataClassifications map[string]bool
	IsPrivileged        bool
	MaxSessionDuration   int64 // seconds
	MFARequired          bool
}

// DefaultRoles returns the five roles access_control.py seeds at startup:
// admin, compliance_officer, data_processor, support_agent, read_only.
func DefaultRoles() map[string]*Role {
	all := func(vals ...string) map[string]bool {
		m := make(map[string]bool, len(vals))
		for _, v := range vals {
			m[v] = true
		}
		return m
	}

	roles := map[string]*Role{
		"admin": {
			ID:                  "admin",
			Permissions:         all("read", "write", "delete", "admin", "export", "configure"),
			ResourceTypes:       all("personal_data", "audit_log", "system_config", "breach_record", "dsar", "consent", "ai_decision"),
			DataClassifications: all("public", "internal", "confidential", "sensitive_personal", "phi", "pci"),
			IsPrivileged:        true,
			MaxSessionDuration:  4 * 3600,
			MFARequired:         true,
		},
		"compliance_officer": {
			ID:                  "compliance_officer",
			Permissions:         all("read", "write", "export"),
			ResourceTypes:       all("personal_data", "audit_log", "breach_record", "dsar", "consent", "ai_decision"),
			DataClassifications: all("internal", "confidential", "sensitive_personal", "phi", "pci"),
			IsPrivileged:        true,
			MaxSessionDuration:  4 * 3600,
			MFARequired:         true,
		},
		"data_processor": {
			ID:                  "data_processor",
			Permissions:         all("read", "write"),
			ResourceTypes:       all("personal_data", "dsar", "consent"),
			DataClassifications: all("internal", "confidential"),
			IsPrivileged:        false,
			MaxSessionDuration:  8 * 3600,
			MFARequired:         false,
		},
		"support_agent": {
			ID:                  "support_agent",
			Permissions:         all("read"),
			ResourceTypes:       all("personal_data", "dsar"),
			DataClassifications: all("internal"),
			IsPrivileged:        false,
			MaxSessionDuration:  8 * 3600,
			MFARequired:         false,
		},
		"read_only": {
			ID:                  "read_only",
			Permissions:         all("read"),
			ResourceTypes:       all("personal_data", "audit_log", "dsar", "consent", "ai_decision"),
			DataClassifications: all("public", "internal"),
			IsPrivileged:        false,
			MaxSessionDuration:  8 * 3600,
			MFARequired:         false,
		},
	}
	return roles
}

// sensitiveClassifications mirrors spec §4.4's audit_required trigger set.
var sensitiveClassifications = map[string]bool{
	"sensitive_personal": true,
	"phi":                true,
	"pci":                true,
}
