package fixtures

import (
	"context"
	"fmt"

	"robottelo/internal/client"
	"robottelo/internal/fixture"
	"robottelo/internal/settings"
)

// ldapKinds maps the ldap_kind parameter to its settings section and the
// server's auth source type.
var ldapKinds = map[string]struct {
	section    string
	serverType string
	host       string
	account    string
	password   string
	baseDN     string
	groupsDN   string
}{
	"ad":       {"ldap", "active_directory", "ldap.hostname", "ldap.username", "ldap.password", "ldap.basedn", "ldap.grpbasedn"},
	"ipa":      {"ipa", "free_ipa", "ipa.hostname", "ipa.username", "ipa.password", "ipa.basedn", "ipa.grpbasedn"},
	"openldap": {"open_ldap", "posix", "open_ldap.hostname", "open_ldap.username", "open_ldap.password", "open_ldap.base_dn", "open_ldap.group_base_dn"},
}

// LDAPKinds are the values of the ldap_kind parameter.
var LDAPKinds = []any{"ad", "ipa", "openldap"}

func (f *factory) ldapAuthSource() fixture.Descriptor {
	d := fixture.Yield(LDAPAuthSource, fixture.Module, []string{TargetSat, ModuleOrg, ModuleLocation}, func(ctx context.Context, req *fixture.Request) (any, fixture.Finalizer, error) {
		raw, _ := req.Param()
		kind, ok := ldapKinds[fmt.Sprint(raw)]
		if !ok {
			return nil, nil, fmt.Errorf("unknown ldap_kind %v", raw)
		}
		s := req.Settings()
		if s == nil || !s.Capability(kind.section) {
			return nil, nil, &fixture.SkipDependents{Skip: fixture.SkipFor(capabilities(s), kind.section)}
		}

		attrs := client.Attrs{"server_type": kind.serverType, "tls": false, "port": 389, "onthefly_register": true}
		for key, path := range map[string]string{
			"host": kind.host, "account": kind.account, "account_password": kind.password,
			"base_dn": kind.baseDN, "groups_base": kind.groupsDN,
		} {
			v, err := s.String(path)
			if err != nil {
				return nil, nil, err
			}
			attrs[key] = v
		}
		org, err := entityID(req, ModuleOrg)
		if err != nil {
			return nil, nil, err
		}
		loc, err := entityID(req, ModuleLocation)
		if err != nil {
			return nil, nil, err
		}
		attrs["name"] = RandomName("ldap-" + fmt.Sprint(raw))
		attrs["organization_ids"] = []int{org}
		attrs["location_ids"] = []int{loc}

		sat, err := fixture.Get[*client.Server](req, TargetSat)
		if err != nil {
			return nil, nil, err
		}
		e, err := sat.Create(ctx, client.KindAuthSourceLDAP, attrs)
		if err != nil {
			return nil, nil, err
		}
		if !cleanupEnabled(req) {
			return e, nil, nil
		}
		return e, deleteEntity(sat, e), nil
	})
	d.Params = LDAPKinds
	d.IndirectKeys = []string{"ldap_kind"}
	d.Description = "an LDAP auth source of the ldap_kind server"
	return d
}

// capabilities avoids handing a typed nil to SkipFor.
func capabilities(s *settings.Settings) fixture.Capabilities {
	if s == nil {
		return nil
	}
	return s
}
