package app

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
)

// ParseMemberships reads "company:user:ROLE" triples separated by commas.
func ParseMemberships(raw string) ([]rbac.Membership, error) {
	var out []rbac.Membership
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("membership %q: want company:user:role", entry)
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] == "" {
				return nil, fmt.Errorf("membership %q: empty field", entry)
			}
		}
		role := strings.ToUpper(parts[2])
		if _, ok := rbac.DefaultMatrix()[role]; !ok {
			return nil, fmt.Errorf("membership %q: unknown role %s", entry, role)
		}
		out = append(out, rbac.Membership{CompanyID: parts[0], UserID: parts[1], Role: role})
	}
	return out, nil
}
