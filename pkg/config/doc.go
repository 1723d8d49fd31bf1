// Package config loads the settings of the daqconf tool and decodes
// configuration documents from their source formats.
//
// # Settings
//
// Settings are written in CUE and checked against the builtin #Settings
// schema before being decoded and validated field by field:
//
//	partition: "ATLAS"
//	sources: files: ["./db"]
//	limits: fuse_depth: 500
//	telemetry: logging: level: "debug"
//
// Values missing from the file keep those of DefaultSettings. The
// DAQCONF_PARTITION and LOG_LEVEL environment variables override the file
// through Settings.ApplyEnv.
//
// # Documents
//
// A Loader turns files into a confdb.Document. The decoder is chosen by
// extension:
//
//   - .yaml, .yml and .json are decoded directly
//   - .cue files are unified with the #Document schema
//   - .star scripts are run and must assign a list to "objects"
//   - .db and .sqlite files are snapshots written by confdb.SQLiteStore
//
// Directories are walked and every file with a known extension is loaded.
// The resulting documents are merged in path order.
//
// A Starlark script builds objects with the predeclared object builtin:
//
//	objects = [
//	    object("rcd-%d" % i, "RunControlApplication",
//	           attrs = {"ActionTimeout": 20},
//	           rels = {"RunsOn": "pc-%d" % i})
//	    for i in range(4)
//	]
//
// Scripts run without filesystem or network access and are interrupted
// after DefaultStarlarkTimeout.
//
// # Errors
//
// Schema failures are reported as ValidationErrors carrying the file, line
// and CUE path of each problem. Documents that cannot be decoded are
// reported as dal.ConfigError values with code INVALID_DOCUMENT.
package config
