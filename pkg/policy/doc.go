// Package policy lints a resolved partition with Rego rules.
//
// BuildInput walks the partition through the engine and produces an Input
// document: segments with their controller, hosts and timeouts,
// applications with their placement, dependencies and environment build
// outcome, and the computers in use. Engine evaluates the deny set of every
// enabled policy against it:
//
//	package site.readout
//
//	deny contains violation if {
//		some app in input.applications
//		startswith(app.id, "ros-")
//		count(app.backup_hosts) == 0
//		violation := {"object": app.id, "message": "readout application without backup host"}
//	}
//
// A violation is either a string or an object with "message", "object",
// "severity" and "details" keys. Violations without a severity take the
// severity of their policy.
//
// The builtin rules check environment builds, segment timeouts, backup and
// disabled hosts, segments without applications and object ids. Site rules
// are read from .rego files by Loader, which can also watch them and hand
// reloaded policies to Engine.ReplacePolicies.
package policy
