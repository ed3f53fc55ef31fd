package naming

import "strings"

// tenantCase returns the tenant family code belongs to. The longest
// matching prefix wins.
func (c *Config) tenantCase(code string) (TenantCase, bool) {
	var best TenantCase
	found := false
	for _, tc := range c.TenantCases {
		if code != tc.Prefix && !strings.HasPrefix(code, tc.Prefix+".") {
			continue
		}
		if !found || len(tc.Prefix) > len(best.Prefix) {
			best, found = tc, true
		}
	}
	return best, found
}

// IsTenantCase reports whether code belongs to a tenant family.
func (c *Config) IsTenantCase(code string) bool {
	_, ok := c.tenantCase(code)
	return ok
}

// TenantNo returns the numeric tenant segment at the family's position, or
// the empty string when code does not carry one.
func (c *Config) TenantNo(code string) string {
	tc, ok := c.tenantCase(code)
	if !ok {
		return ""
	}
	segs := strings.Split(code, ".")
	if tc.Position >= len(segs) {
		return ""
	}
	if seg := segs[tc.Position]; seg != "" && digitsOnly(seg) == seg {
		return seg
	}
	return ""
}

// parentCode drops the last segment of code.
func parentCode(code string) (string, bool) {
	i := strings.LastIndexByte(code, '.')
	if i <= 0 {
		return "", false
	}
	return code[:i], true
}
