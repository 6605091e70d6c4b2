package models

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	dErrors "approvalflow/pkg/domain-errors"
)

// Configuration maps a (module, service) pair to its ordered approval levels.
//
// Invariants:
//   - ModuleName and ServiceName are non-empty
//   - at least one level; names unique and non-empty; each has approver roles
//   - Order is 1..N following list position
//   - DefaultTimeoutHours > 0, level TimeoutHours >= 0 (zero inherits the default)
//
// Re-configuring a key replaces Levels and Conditions. Requests already created
// keep the snapshot they were created with.
type Configuration struct {
	ModuleName          string     `json:"module_name"`
	ServiceName         string     `json:"service_name"`
	EndpointPath        string     `json:"endpoint_path"`
	Levels              []Level    `json:"levels"`
	Conditions          Conditions `json:"conditions"`
	DefaultTimeoutHours int        `json:"default_timeout_hours"`
	Enabled             bool       `json:"enabled"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewConfiguration validates the definition and assigns level order.
func NewConfiguration(module, service, endpoint string, levels []Level, conditions Conditions, defaultTimeoutHours int, now time.Time) (*Configuration, error) {
	module = strings.TrimSpace(module)
	service = strings.TrimSpace(service)
	if module == "" || service == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "module name and service name are required")
	}
	if defaultTimeoutHours <= 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "timeout hours must be positive")
	}
	if len(levels) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "at least one approval level is required")
	}

	ordered := make([]Level, len(levels))
	seen := make(map[string]struct{}, len(levels))
	for i, level := range levels {
		name := strings.TrimSpace(level.Name)
		if name == "" {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("level %d: name is required", i+1))
		}
		if _, dup := seen[name]; dup {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("level %q is defined more than once", name))
		}
		seen[name] = struct{}{}
		if len(level.ApproverRoles) == 0 {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("level %q: approver roles are required", name))
		}
		for _, role := range level.ApproverRoles {
			if strings.TrimSpace(string(role)) == "" {
				return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("level %q: approver role cannot be blank", name))
			}
		}
		if level.TimeoutHours < 0 {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("level %q: timeout hours cannot be negative", name))
		}
		ordered[i] = Level{
			Name:          name,
			ApproverRoles: append([]Role(nil), level.ApproverRoles...),
			Required:      level.Required,
			TimeoutHours:  level.TimeoutHours,
			Order:         i + 1,
		}
	}

	if err := conditions.Validate(); err != nil {
		return nil, err
	}

	return &Configuration{
		ModuleName:          module,
		ServiceName:         service,
		EndpointPath:        endpoint,
		Levels:              ordered,
		Conditions:          conditions,
		DefaultTimeoutHours: defaultTimeoutHours,
		Enabled:             true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// Key identifies the gated service, e.g. "license.issue".
func (c *Configuration) Key() string {
	return ConfigKey(c.ModuleName, c.ServiceName)
}

// ConfigKey formats a (module, service) pair.
func ConfigKey(module, service string) string {
	return module + "." + service
}

// SameShape reports whether other defines the same levels, conditions and timeouts.
func (c *Configuration) SameShape(other *Configuration) bool {
	if other == nil {
		return false
	}
	return c.EndpointPath == other.EndpointPath &&
		c.DefaultTimeoutHours == other.DefaultTimeoutHours &&
		reflect.DeepEqual(c.Levels, other.Levels) &&
		reflect.DeepEqual(normalizeConditions(c.Conditions), normalizeConditions(other.Conditions))
}

// normalizeConditions round-trips values through fmt so 100, 100.0 and
// json.Number("100") read from different sources compare equal.
func normalizeConditions(conds Conditions) []string {
	out := make([]string, len(conds))
	for i, c := range conds {
		out[i] = fmt.Sprintf("%s|%s|%v", c.Field, c.Op, c.Value)
	}
	return out
}

// Clone returns a copy whose level and condition slices are not shared.
func (c *Configuration) Clone() *Configuration {
	out := *c
	out.Levels = make([]Level, len(c.Levels))
	for i, l := range c.Levels {
		l.ApproverRoles = append([]Role(nil), l.ApproverRoles...)
		out.Levels[i] = l
	}
	out.Conditions = append(Conditions(nil), c.Conditions...)
	return &out
}
