package settings

import (
	"fmt"
	"os"
)

// Section groups the validators of one top-level settings key.
type Section struct {
	Name       string
	Validators []*Validator
	// Implicit sections are validated even when absent from the
	// document, so their defaults always materialize.
	Implicit bool
}

// Catalog is the ordered validator catalog. Order matters: When gates see
// only what earlier sections already configured.
type Catalog []Section

// Section returns the named section or nil.
func (c Catalog) Section(name string) *Section {
	for i := range c {
		if c[i].Name == name {
			return &c[i]
		}
	}
	return nil
}

// Names returns section names in declaration order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name
	}
	return names
}

var azureRegions = []any{
	"eastus", "eastus2", "westus", "westus2", "westus3", "centralus",
	"northcentralus", "southcentralus", "westcentralus", "canadacentral",
	"canadaeast", "brazilsouth", "northeurope", "westeurope", "uksouth",
	"ukwest", "francecentral", "germanywestcentral", "norwayeast",
	"switzerlandnorth", "swedencentral", "eastasia", "southeastasia",
	"japaneast", "japanwest", "australiaeast", "australiasoutheast",
	"centralindia", "southindia", "westindia", "koreacentral",
	"southafricanorth", "uaenorth",
}

// scopeID names the default shared_function scope after the host and the
// parent process, so worker processes started by one launcher share
// results while unrelated runs on the same host do not.
func scopeID() any {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d", host, os.Getppid())
}

// DefaultCatalog returns the validators for every recognized section.
func DefaultCatalog() Catalog {
	return Catalog{
		// robottelo comes first so that ignore_validation_errors is
		// known regardless of what fails later.
		{Name: "robottelo", Implicit: true, Validators: []*Validator{
			V("robottelo.settings.ignore_validation_errors").Default(false).Cast(CastBool).OfType(KindBool),
			V("robottelo.settings.get_fresh").Default(true).Cast(CastBool).OfType(KindBool),
			V("robottelo.cleanup").Default(false).Cast(CastBool).OfType(KindBool),
			V("robottelo.tmp_dir").Default("/var/tmp").OfType(KindString),
			V("robottelo.run_one_datapoint").Default(false).Cast(CastBool).OfType(KindBool),
			V("robottelo.locale").Default("en_US.UTF-8").OfType(KindString),
			V("robottelo.setup_timeout").Default(3600).Cast(CastInt).OfType(KindInt),
		}},
		{Name: "server", Validators: []*Validator{
			V("server.hostname").Required().OfType(KindString),
			V("server.hostnames").Default([]any{}).OfType(KindList),
			V("server.version.release").Default("stream").Cast(CastString).Check(IsReleaseOrStream),
			V("server.version.source").Default("internal").In("internal", "ga", "nightly"),
			V("server.version.rhel_version").Cast(CastString),
			V("server.admin_username").Default("admin").OfType(KindString),
			V("server.admin_password").Default("changeme").OfType(KindString),
			V("server.scheme").Default("https").In("http", "https"),
			V("server.port").Default(443).Cast(CastInt).OfType(KindInt),
			V("server.network_type").Default("ipv4").In("ipv4", "ipv6", "dualstack"),
			V("server.ssh_username").Default("root").OfType(KindString),
			V("server.ssh_password").OfType(KindString),
			V("server.ssh_port").Default(22).Cast(CastInt).OfType(KindInt),
			V("server.ssh_client.command_timeout").Default(300).Cast(CastInt).OfType(KindInt),
			V("server.verify_ca").Default(false).Cast(CastBool).OfType(KindBool),
			V("server.inventory_filter").Default("name<satellite-").OfType(KindString),
		}},
		{Name: "content_host", Validators: []*Validator{
			V("content_host.default_rhel_version").Required().Cast(CastString),
			V("content_host.deploy_kwargs").OfType(KindMap),
			V("content_host.hardware").OfType(KindMap),
		}},
		{Name: "subscription", Validators: []*Validator{
			V("subscription.rhn_username", "subscription.rhn_password", "subscription.rhn_poolid").Required().OfType(KindString),
			V("subscription.lifecycle_manifest").Default(false).Cast(CastBool),
		}},
		{Name: "ansible_hub", Validators: []*Validator{
			V("ansible_hub.url").Required().Check(IsURL),
			V("ansible_hub.token").Required().OfType(KindString),
		}},
		{Name: "azurerm", Validators: []*Validator{
			V("azurerm.client_id", "azurerm.client_secret", "azurerm.subscription_id",
				"azurerm.tenant_id", "azurerm.ssh_pub_key", "azurerm.username",
				"azurerm.password", "azurerm.azure_subnet", "azurerm.zone",
				"azurerm.resource_group").Required(),
			V("azurerm.azure_region").Required().OfType(KindString).Normalized(LowerNoSpaces).In(azureRegions...),
		}},
		{Name: "broker", Validators: []*Validator{
			V("broker.host_type").Default("host").In("host", "satlab", "container"),
			V("broker.broker_directory").OfType(KindString),
		}},
		{Name: "capsule", Validators: []*Validator{
			V("capsule.version.release").Required().Cast(CastString).Check(IsReleaseOrStream),
			V("capsule.version.source").Default("internal").In("internal", "ga", "nightly"),
			V("capsule.deploy_workflows.product", "capsule.deploy_workflows.os").Required(),
		}},
		{Name: "libvirt", Validators: []*Validator{
			V("libvirt.libvirt_hostname", "libvirt.libvirt_image_dir").Required().OfType(KindString),
		}},
		{Name: "container", Validators: []*Validator{
			V("container.registry_hub", "container.upstream_name").Required().OfType(KindString),
			V("container.multi_registry_test_configs").OfType(KindList),
		}},
		{Name: "container_repo", Validators: []*Validator{
			V("container_repo.registries").Required().OfType(KindMap),
		}},
		{Name: "docker", Validators: []*Validator{
			V("docker.external_registry_1").Required().OfType(KindString),
			V("docker.private_registry_url").Check(IsURL),
		}},
		{Name: "ec2", Validators: []*Validator{
			V("ec2.access_key", "ec2.secret_key", "ec2.region", "ec2.image",
				"ec2.availability_zone", "ec2.subnet", "ec2.security_groups").Required(),
			V("ec2.managed_ip").Required().In("Private", "Public"),
		}},
		{Name: "fake_capsules", Validators: []*Validator{
			V("fake_capsules.port_range").Required().Check(IsPortRange),
		}},
		{Name: "gce", Validators: []*Validator{
			V("gce.project_id", "gce.client_email", "gce.zone", "gce.cert").Required(),
			V("gce.cert_path").Required().Check(StartsWith("/usr/share/foreman/")),
		}},
		{Name: "git", Validators: []*Validator{
			V("git.username", "git.password", "git.hostname").Required().OfType(KindString),
			V("git.ssh_port", "git.http_port").Required().Cast(CastInt).OfType(KindInt),
		}},
		{Name: "http_proxy", Validators: []*Validator{
			V("http_proxy.un_auth_proxy_url", "http_proxy.auth_proxy_url").Check(IsURL),
			V("http_proxy.username", "http_proxy.password").OfType(KindString),
			V("http_proxy.http_proxy_ipv6_url").Required().When("server.network_type", "ipv6").Check(IsURL),
		}},
		{Name: "ipa", Validators: []*Validator{
			V("ipa.hostname", "ipa.username", "ipa.password", "ipa.basedn",
				"ipa.grpbasedn", "ipa.user").Required().OfType(KindString),
			V("ipa.time_based_secret").OfType(KindString),
		}},
		{Name: "jira", Validators: []*Validator{
			V("jira.url").Required().Check(IsURL),
			V("jira.api_key").Required().OfType(KindString),
			V("jira.comment_type").Default("markdown").In("markdown", "plain"),
			V("jira.comment_visibility").Default("Red Hat Employee").OfType(KindString),
			V("jira.enable_comment").Default(false).Cast(CastBool).OfType(KindBool),
		}},
		{Name: "ldap", Validators: []*Validator{
			V("ldap.basedn", "ldap.grpbasedn", "ldap.hostname", "ldap.password",
				"ldap.username").Required().OfType(KindString),
			V("ldap.nameserver").OfType(KindString),
		}},
		{Name: "ohsnap", Validators: []*Validator{
			V("ohsnap.host").Required().Check(IsURL),
			V("ohsnap.request_retry.timeout").Default(50).Cast(CastInt).OfType(KindInt),
			V("ohsnap.request_retry.max_sleep").Default(10).Cast(CastInt).OfType(KindInt),
		}},
		{Name: "open_ldap", Validators: []*Validator{
			V("open_ldap.base_dn", "open_ldap.group_base_dn", "open_ldap.hostname",
				"open_ldap.password", "open_ldap.username", "open_ldap.open_ldap_user").Required().OfType(KindString),
		}},
		{Name: "oscap", Validators: []*Validator{
			V("oscap.content_path").Required().OfType(KindString),
			V("oscap.profile").Default("security7").OfType(KindString),
		}},
		{Name: "osp", Validators: []*Validator{
			V("osp.hostname", "osp.username", "osp.password", "osp.tenant",
				"osp.project_domain_id", "osp.security_group", "osp.vm_name",
				"osp.image_os", "osp.image_arch", "osp.image_username", "osp.image_name").Required(),
		}},
		{Name: "performance", Validators: []*Validator{
			V("performance.time_hammer").Default(false).Cast(CastBool).OfType(KindBool),
			V("performance.cdn_address").OfType(KindString),
			V("performance.virtual_machines").OfType(KindList),
		}},
		{Name: "report_portal", Validators: []*Validator{
			V("report_portal.url").Required().Check(IsURL),
			V("report_portal.project", "report_portal.api_key").Required().OfType(KindString),
			V("report_portal.fail_threshold").Default(20).Cast(CastInt).OfType(KindInt),
			V("report_portal.launch_name").Default("robottelo").OfType(KindString),
		}},
		{Name: "rh_cloud", Validators: []*Validator{
			V("rh_cloud.token", "rh_cloud.organization").Required(),
			V("rh_cloud.crc_env").Default("prod").In("prod", "stage"),
		}},
		{Name: "repos", Validators: []*Validator{
			V("repos.rhel7_os").Required().OfType(KindString),
			V("repos.rhel8_os.baseos", "repos.rhel8_os.appstream").Required().OfType(KindString),
			V("repos.rhel9_os.baseos", "repos.rhel9_os.appstream").Required().OfType(KindString),
			V("repos.sattools_repo", "repos.capsule_repo").OfType(KindMap),
		}},
		{Name: "rhev", Validators: []*Validator{
			V("rhev.hostname", "rhev.username", "rhev.password", "rhev.datacenter",
				"rhev.vm_name", "rhev.storage_domain", "rhev.image_os",
				"rhev.image_arch", "rhev.image_username", "rhev.image_name").Required(),
			V("rhev.ca_cert").OfType(KindString),
		}},
		{Name: "rhsso", Validators: []*Validator{
			V("rhsso.host_name", "rhsso.host_url", "rhsso.rhsso_user",
				"rhsso.rhsso_password", "rhsso.realm").Required().OfType(KindString),
		}},
		{Name: "rhbk", Validators: []*Validator{
			V("rhbk.host_name", "rhbk.host_url", "rhbk.rhbk_user",
				"rhbk.rhbk_password", "rhbk.realm").Required().OfType(KindString),
		}},
		{Name: "remotedb", Validators: []*Validator{
			V("remotedb.db_server").Required().OfType(KindString),
			V("remotedb.port").Default(5432).Cast(CastInt).OfType(KindInt),
			V("remotedb.ssl").Default(false).Cast(CastBool).OfType(KindBool),
		}},
		{Name: "shared_function", Implicit: true, Validators: []*Validator{
			V("shared_function.storage").Default("file").In("file", "redis"),
			V("shared_function.scope").DefaultFrom(scopeID).Cast(CastString),
			V("shared_function.enabled").Default(false).Cast(CastBool).OfType(KindBool),
			V("shared_function.lock_timeout").Default(7200).Cast(CastInt).OfType(KindInt),
			V("shared_function.share_timeout").Default(86400).Cast(CastInt).OfType(KindInt),
			V("shared_function.storage_dir").Default("").OfType(KindString),
			V("shared_function.redis_host").Default("localhost").OfType(KindString),
			V("shared_function.redis_port").Default(6379).Cast(CastInt).OfType(KindInt),
			V("shared_function.redis_db").Default(0).Cast(CastInt).OfType(KindInt),
			V("shared_function.redis_password").OfType(KindString),
			V("shared_function.call_retries").Default(2).Cast(CastInt).OfType(KindInt),
		}},
		{Name: "upgrade", Validators: []*Validator{
			AnyOf(
				V("upgrade.rhev_cap_host").Required().OfType(KindString),
				V("upgrade.capsule_hostname").Required().OfType(KindString),
			),
			V("upgrade.from_version", "upgrade.to_version").Required().Cast(CastSemver),
			V("upgrade.os").Default("rhel8").In("rhel7", "rhel8", "rhel9"),
			V("upgrade.data_file").Default("upgrade_data.yaml").OfType(KindString),
		}},
		{Name: "vmware", Validators: []*Validator{
			V("vmware.vcenter", "vmware.username", "vmware.password", "vmware.datacenter",
				"vmware.vm_name", "vmware.cluster", "vmware.datastore", "vmware.image_os",
				"vmware.image_arch", "vmware.image_username", "vmware.image_name").Required(),
		}},
		{Name: "supportability", Validators: []*Validator{
			V("supportability.content_hosts.default_os_name").Default("RedHat").OfType(KindString),
			V("supportability.content_hosts.rhel.versions").Required().OfType(KindList),
		}},
	}
}
