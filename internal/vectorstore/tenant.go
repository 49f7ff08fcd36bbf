package vectorstore

import (
	"errors"
	"fmt"
)

// TenantKey is the payload key every record carries its tenant under.
const TenantKey = "tenant_id"

// ErrInvalidTenant is returned when a tenant identifier is empty or when a
// caller filter tries to override it. Queries fail closed.
var ErrInvalidTenant = errors.New("invalid tenant identifier")

// TenantFilter returns a filter scoped to tenantID, merged with extra
// conditions. extra may not set TenantKey to a different tenant.
func TenantFilter(tenantID string, extra Filter) (Filter, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}

	filter := make(Filter, len(extra)+1)
	for k, v := range extra {
		if k == TenantKey {
			if s, ok := v.(string); !ok || s != tenantID {
				return nil, fmt.Errorf("%w: filter overrides %s", ErrInvalidTenant, TenantKey)
			}
		}
		filter[k] = v
	}
	filter[TenantKey] = tenantID

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return filter, nil
}
