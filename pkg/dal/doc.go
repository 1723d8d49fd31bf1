// Package dal defines the vocabulary shared by every daqconf package: the core
// configuration class hierarchy, attribute and relationship names, capability
// helpers and the classified ConfigError.
//
// # Errors
//
// Every failure produced while resolving a partition is a *ConfigError with one
// of four classes:
//
//   - ErrorClassNotFound: a partition, segment, application or tag is absent
//   - ErrorClassBadConfiguration: duplicated ids, repeated inclusion, cycles
//   - ErrorClassIncompatibleTag: no hw/sw tag satisfies a host
//   - ErrorClassEnvironmentBuildFailure: no runnable program environment
//
// The Code field narrows the failure further; use HasCode or errors.Is with a
// template error to test for it:
//
//	if dal.HasCode(err, dal.ErrCodeCircularDependency) {
//		...
//	}
package dal
