package schema

// Built-in resource types of the security-policy management API.

func scalar(name string) Field { return Field{Name: name, Kind: KindScalar} }

func set(name string) Field { return Field{Name: name, Kind: KindSet} }

func secret(name string) Field { return Field{Name: name, Kind: KindSecret} }

func nested(name string, s *ResourceSchema) Field {
	return Field{Name: name, Kind: KindNested, Nested: s}
}

func ref(f Field, target string) Field {
	f.References = target
	return f
}

func containerGroup(members ...string) ExclusiveGroup {
	return ExclusiveGroup{Name: "container", Role: RoleContainer, Members: members, Required: true}
}

func containerFields(members ...string) []Field {
	fields := make([]Field, 0, len(members))
	for _, m := range members {
		fields = append(fields, scalar(m))
	}
	return fields
}

func withContainer(s *ResourceSchema, members ...string) *ResourceSchema {
	s.Fields = append(s.Fields, containerFields(members...)...)
	s.Groups = append([]ExclusiveGroup{containerGroup(members...)}, s.Groups...)
	return s
}

var fullContainer = []string{"folder", "snippet", "device"}

// lifetimeSchema is shared by the crypto profiles. Several units may be sent
// by older configurations; the coarsest unit wins.
func lifetimeSchema(units ...string) *ResourceSchema {
	fields := make([]Field, 0, len(units))
	for _, u := range units {
		fields = append(fields, scalar(u))
	}
	precedence := make([]string, 0, len(units))
	for i := len(units) - 1; i >= 0; i-- {
		precedence = append(precedence, units[i])
	}
	return &ResourceSchema{
		Fields: fields,
		Groups: []ExclusiveGroup{{
			Name:       "unit",
			Role:       RoleVariant,
			Members:    units,
			Required:   true,
			Precedence: precedence,
		}},
	}
}

// AddressSchema describes address objects.
func AddressSchema() *ResourceSchema {
	fqdn := scalar("fqdn")
	fqdn.CaseInsensitive = true
	return withContainer(&ResourceSchema{
		Type:        "address",
		Description: "IP netmask, range, wildcard or FQDN address object",
		Fields: []Field{
			scalar("name"),
			scalar("description"),
			ref(set("tag"), "tag"),
			scalar("ip_netmask"),
			scalar("ip_range"),
			scalar("ip_wildcard"),
			fqdn,
		},
		Groups: []ExclusiveGroup{{
			Name:     "address_type",
			Role:     RoleVariant,
			Members:  []string{"ip_netmask", "ip_range", "ip_wildcard", "fqdn"},
			Required: true,
		}},
	}, fullContainer...)
}

// AddressGroupSchema describes static and dynamic address groups.
func AddressGroupSchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "address_group",
		Description: "Static or dynamic group of address objects",
		Fields: []Field{
			scalar("name"),
			scalar("description"),
			ref(set("tag"), "tag"),
			ref(set("static"), "address"),
			nested("dynamic", &ResourceSchema{Fields: []Field{scalar("filter")}}),
		},
		Groups: []ExclusiveGroup{{
			Name:     "group_type",
			Role:     RoleVariant,
			Members:  []string{"static", "dynamic"},
			Required: true,
		}},
	}, fullContainer...)
}

// TagSchema describes tags.
func TagSchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "tag",
		Description: "Tag used to label policy objects",
		Fields: []Field{
			scalar("name"),
			scalar("color"),
			scalar("comments"),
		},
	}, fullContainer...)
}

func portSchema() *ResourceSchema {
	return &ResourceSchema{
		Fields: []Field{
			scalar("port"),
			nested("override", &ResourceSchema{Fields: []Field{
				scalar("timeout"),
				scalar("halfclose_timeout"),
				scalar("timewait_timeout"),
			}}),
		},
	}
}

// ServiceSchema describes TCP and UDP service objects.
func ServiceSchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "service",
		Description: "TCP or UDP service object",
		Fields: []Field{
			scalar("name"),
			scalar("description"),
			ref(set("tag"), "tag"),
			nested("protocol", &ResourceSchema{
				Fields: []Field{
					nested("tcp", portSchema()),
					nested("udp", portSchema()),
				},
				Groups: []ExclusiveGroup{{
					Name:     "protocol",
					Role:     RoleVariant,
					Members:  []string{"tcp", "udp"},
					Required: true,
				}},
			}),
		},
	}, fullContainer...)
}

// ServiceGroupSchema describes service groups.
func ServiceGroupSchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "service_group",
		Description: "Group of service objects",
		Fields: []Field{
			scalar("name"),
			ref(set("members"), "service"),
			ref(set("tag"), "tag"),
		},
	}, fullContainer...)
}

// ApplicationFilterSchema describes application filters. Filters live only
// in folders and snippets.
func ApplicationFilterSchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "application_filter",
		Description: "Dynamic application filter",
		Fields: []Field{
			scalar("name"),
			set("category"),
			set("sub_category"),
			set("technology"),
			set("risk"),
			set("saas_certifications"),
			scalar("evasive"),
			scalar("excessive_bandwidth_use"),
			scalar("used_by_malware"),
			scalar("transfers_files"),
			scalar("has_known_vulnerabilities"),
			scalar("tunnels_other_apps"),
			scalar("prone_to_misuse"),
			scalar("pervasive"),
		},
	}, "folder", "snippet")
}

// IKECryptoProfileSchema describes IKE crypto profiles.
func IKECryptoProfileSchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "ike_crypto_profile",
		Description: "IKE phase 1 crypto profile",
		Fields: []Field{
			scalar("name"),
			set("hash"),
			set("encryption"),
			set("dh_group"),
			nested("lifetime", lifetimeSchema("seconds", "minutes", "hours", "days")),
			scalar("authentication_multiple"),
		},
	}, fullContainer...)
}

// IPsecCryptoProfileSchema describes IPsec crypto profiles.
func IPsecCryptoProfileSchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "ipsec_crypto_profile",
		Description: "IPsec phase 2 crypto profile",
		Fields: []Field{
			scalar("name"),
			scalar("dh_group"),
			nested("esp", &ResourceSchema{Fields: []Field{
				set("encryption"),
				set("authentication"),
			}}),
			nested("ah", &ResourceSchema{Fields: []Field{
				set("authentication"),
			}}),
			nested("lifetime", lifetimeSchema("seconds", "minutes", "hours", "days")),
			nested("lifesize", lifetimeSchema("kb", "mb", "gb", "tb")),
		},
		Groups: []ExclusiveGroup{{
			Name:     "protocol",
			Role:     RoleVariant,
			Members:  []string{"esp", "ah"},
			Required: true,
		}},
	}, fullContainer...)
}

func ikeVersionSchema() *ResourceSchema {
	return &ResourceSchema{Fields: []Field{
		ref(scalar("ike_crypto_profile"), "ike_crypto_profile"),
		nested("dpd", &ResourceSchema{Fields: []Field{scalar("enable")}}),
	}}
}

// IKEGatewaySchema describes IKE gateways. Pre-shared keys are write-only.
func IKEGatewaySchema() *ResourceSchema {
	return withContainer(&ResourceSchema{
		Type:        "ike_gateway",
		Description: "IKE gateway with pre-shared key or certificate authentication",
		Fields: []Field{
			scalar("name"),
			nested("authentication", &ResourceSchema{
				Fields: []Field{
					nested("pre_shared_key", &ResourceSchema{Fields: []Field{secret("key")}}),
					nested("certificate", &ResourceSchema{Fields: []Field{
						scalar("local_certificate"),
						scalar("certificate_profile"),
						scalar("strict_validation_revocation"),
					}}),
				},
				Groups: []ExclusiveGroup{{
					Name:     "method",
					Role:     RoleVariant,
					Members:  []string{"pre_shared_key", "certificate"},
					Required: true,
				}},
			}),
			nested("peer_address", &ResourceSchema{
				Fields: []Field{scalar("ip"), scalar("fqdn"), nested("dynamic", &ResourceSchema{Fields: []Field{}})},
				Groups: []ExclusiveGroup{{
					Name:     "peer",
					Role:     RoleVariant,
					Members:  []string{"ip", "fqdn", "dynamic"},
					Required: true,
				}},
			}),
			nested("protocol", &ResourceSchema{Fields: []Field{
				scalar("version"),
				nested("ikev1", ikeVersionSchema()),
				nested("ikev2", ikeVersionSchema()),
			}}),
			nested("local_id", &ResourceSchema{Fields: []Field{scalar("type"), scalar("id")}}),
			nested("peer_id", &ResourceSchema{Fields: []Field{scalar("type"), scalar("id")}}),
			nested("protocol_common", &ResourceSchema{Fields: []Field{
				scalar("passive_mode"),
				nested("nat_traversal", &ResourceSchema{Fields: []Field{scalar("enable")}}),
				nested("fragmentation", &ResourceSchema{Fields: []Field{scalar("enable")}}),
			}}),
		},
	}, fullContainer...)
}

// SecurityRuleSchema describes security rules.
func SecurityRuleSchema() *ResourceSchema {
	policyType := scalar("policy_type")
	policyType.ReadOnly = true
	return withContainer(&ResourceSchema{
		Type:        "security_rule",
		Description: "Security policy rule",
		Fields: []Field{
			scalar("name"),
			scalar("description"),
			scalar("disabled"),
			scalar("action"),
			set("from"),
			set("to"),
			ref(set("source"), "address"),
			ref(set("destination"), "address"),
			set("source_user"),
			set("application"),
			ref(set("service"), "service"),
			set("category"),
			ref(set("tag"), "tag"),
			scalar("negate_source"),
			scalar("negate_destination"),
			scalar("log_setting"),
			scalar("log_start"),
			scalar("log_end"),
			nested("profile_setting", &ResourceSchema{Fields: []Field{set("group")}}),
			policyType,
		},
		ControlFields: []string{"position", "rulebase"},
	}, fullContainer...)
}

// RemoteNetworkSchema describes remote networks with their ECMP tunnels.
func RemoteNetworkSchema() *ResourceSchema {
	tunnels := Field{
		Name:    "ecmp_tunnels",
		Kind:    KindOrderedList,
		SortKey: "name",
		Nested: &ResourceSchema{Fields: []Field{
			scalar("name"),
			scalar("ipsec_tunnel"),
			scalar("local_ip_address"),
			scalar("peer_as"),
			scalar("peer_ip_address"),
			scalar("do_not_export_routes"),
		}},
	}
	return withContainer(&ResourceSchema{
		Type:        "remote_network",
		Description: "Remote network onboarded through IPsec tunnels",
		Fields: []Field{
			scalar("name"),
			scalar("region"),
			scalar("license_type"),
			scalar("description"),
			scalar("spn_name"),
			scalar("ecmp_load_balancing"),
			scalar("ipsec_tunnel"),
			scalar("secondary_ipsec_tunnel"),
			set("subnets"),
			tunnels,
			nested("protocol", &ResourceSchema{Fields: []Field{
				nested("bgp", &ResourceSchema{Fields: []Field{
					scalar("enable"),
					scalar("peer_as"),
					scalar("peer_ip_address"),
					scalar("local_ip_address"),
					secret("secret"),
				}}),
			}}),
		},
		Groups: []ExclusiveGroup{{
			Name:    "tunnel_mode",
			Role:    RoleVariant,
			Members: []string{"ipsec_tunnel", "ecmp_tunnels"},
		}},
	}, "folder", "snippet")
}

// Builtin returns fresh copies of every built-in schema.
func Builtin() []*ResourceSchema {
	return []*ResourceSchema{
		AddressSchema(),
		AddressGroupSchema(),
		TagSchema(),
		ServiceSchema(),
		ServiceGroupSchema(),
		ApplicationFilterSchema(),
		IKECryptoProfileSchema(),
		IPsecCryptoProfileSchema(),
		IKEGatewaySchema(),
		SecurityRuleSchema(),
		RemoteNetworkSchema(),
	}
}
