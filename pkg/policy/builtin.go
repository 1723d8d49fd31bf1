package policy

// GetBuiltinPolicies returns the rules shipped with the tool.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		environmentPolicy(),
		timeoutsPolicy(),
		backupHostsPolicy(),
		disabledHostsPolicy(),
		emptySegmentPolicy(),
		namingPolicy(),
	}
}

func builtin(name, description string, severity Severity, rego string) Policy {
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Rego:        rego,
	}
}

// environmentPolicy reports applications whose environment cannot be built.
func environmentPolicy() Policy {
	return builtin("environment", "Every application must have a buildable environment", SeverityError, `package daqconf.rules.environment

deny contains violation if {
	some app in input.applications
	app.environment_error
	violation := {
		"object": app.id,
		"message": sprintf("environment of %s cannot be built: %s", [app.id, app.environment_error]),
		"details": {"code": object.get(app, "error_code", "")},
	}
}
`)
}

func timeoutsPolicy() Policy {
	return builtin("timeouts", "Enabled segments need a non-zero action timeout", SeverityWarning, `package daqconf.rules.timeouts

deny contains violation if {
	some seg in input.segments
	not seg.disabled
	seg.action_timeout == 0
	violation := {
		"object": seg.id,
		"message": sprintf("segment %s has no action timeout", [seg.id]),
	}
}

deny contains violation if {
	some seg in input.segments
	not seg.disabled
	seg.short_timeout > seg.action_timeout
	violation := {
		"object": seg.id,
		"message": sprintf("segment %s: short timeout %d exceeds action timeout %d", [seg.id, seg.short_timeout, seg.action_timeout]),
	}
}
`)
}

func backupHostsPolicy() Policy {
	return builtin("backup-hosts", "Backup hosts must differ from the primary host", SeverityWarning, `package daqconf.rules.backup_hosts

deny contains violation if {
	some app in input.applications
	some backup in app.backup_hosts
	backup == app.host
	violation := {
		"object": app.id,
		"message": sprintf("application %s lists its own host %s as backup", [app.id, backup]),
	}
}
`)
}

// disabledHostsPolicy reports applications placed on computers whose State
// is false.
func disabledHostsPolicy() Policy {
	return builtin("disabled-hosts", "Applications must not run on disabled computers", SeverityError, `package daqconf.rules.disabled_hosts

disabled contains host.id if {
	some host in input.hosts
	not host.enabled
}

deny contains violation if {
	some app in input.applications
	app.host in disabled
	violation := {
		"object": app.id,
		"message": sprintf("application %s runs on disabled computer %s", [app.id, app.host]),
	}
}
`)
}

func emptySegmentPolicy() Policy {
	return builtin("empty-segment", "Segments holding only a controller", SeverityInfo, `package daqconf.rules.empty_segment

deny contains violation if {
	some seg in input.segments
	not seg.disabled
	seg.applications == 0
	seg.nested == 0
	violation := {
		"object": seg.id,
		"message": sprintf("segment %s contains no applications besides its controller", [seg.id]),
	}
}
`)
}

// namingPolicy keeps ids usable as process and directory names.
func namingPolicy() Policy {
	return builtin("naming", "Object ids must be valid process and directory names", SeverityWarning, `package daqconf.rules.naming

ids contains seg.id if {
	some seg in input.segments
}

ids contains app.id if {
	some app in input.applications
}

deny contains violation if {
	some id in ids
	not regex.match("^[A-Za-z0-9_.:-]+$", id)
	violation := {
		"object": id,
		"message": sprintf("id '%s' contains characters other than letters, digits, '_', '.', ':' and '-'", [id]),
	}
}
`)
}
