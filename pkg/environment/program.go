package environment

import (
	"fmt"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/fuse"
)

const (
	shareBin = "share/bin"
	shareLib = "share/lib"
)

func badTag(tag *confdb.Object, message string, err error) *dal.ConfigError {
	return dal.NewIncompatibleTagError(message, err).WithObject(tag)
}

func badProgram(program *confdb.Object, message string, err error) *dal.ConfigError {
	return dal.NewEnvironmentError(message, err).
		WithCode(dal.ErrCodeBadProgramInfo).
		WithObject(program)
}

// platform is the "{hw}-{sw}" directory of a tag.
type platform struct {
	hw, sw string
}

func platformOf(tag *confdb.Object) platform {
	return platform{hw: tag.Str(dal.AttrHWTag), sw: tag.Str(dal.AttrSWTag)}
}

func (p platform) String() string { return p.hw + "-" + p.sw }
func (p platform) bin() string    { return p.String() + "/bin" }
func (p platform) lib() string    { return p.String() + "/lib" }

func (p platform) matches(mapping *confdb.Object) bool {
	return mapping.Str(dal.AttrHWTag) == p.hw && mapping.Str(dal.AttrSWTag) == p.sw
}

func addPath(paths []string, path string) []string {
	for _, p := range paths {
		if p == path {
			return paths
		}
	}
	return append(paths, path)
}

// programPaths is the outcome of resolving a program for one tag.
type programPaths struct {
	names  []string
	search []string
	libs   []string
}

// checkTag verifies that pkg and every package it uses support tag.
func checkTag(pkg, tag *confdb.Object, plat platform, f *fuse.Fuse) error {
	supported := false
	switch {
	case pkg.IsA(dal.ClassSWRepository):
		for _, t := range pkg.Strings(dal.AttrTags) {
			if t == tag.UID() || t == plat.String() {
				supported = true
				break
			}
		}
	case pkg.IsA(dal.ClassSWExternalPackage):
		for _, m := range append(pkg.Rel(dal.RelSharedLibraries), pkg.Rel(dal.RelBinaries)...) {
			if plat.matches(m) {
				supported = true
				break
			}
		}
	default:
		return fmt.Errorf("%s is neither a %s nor a %s", pkg, dal.ClassSWRepository, dal.ClassSWExternalPackage)
	}
	if !supported {
		return badTag(tag, fmt.Sprintf("the %s does not support this tag", pkg), nil)
	}

	release, err := f.Enter(pkg.UID())
	if err != nil {
		return err
	}
	defer release()
	for _, u := range pkg.Rel(dal.RelUses) {
		if err := checkTag(u, tag, plat, f); err != nil {
			return err
		}
	}
	return nil
}

// collectPaths appends the binary and library directories of pkg and of
// every package it uses.
func collectPaths(pkg *confdb.Object, plat platform, pp *programPaths, f *fuse.Fuse) error {
	switch {
	case pkg.IsA(dal.ClassSWRepository):
		for _, root := range []string{pkg.Str(dal.AttrPatchArea), pkg.Str(dal.AttrInstallationPath)} {
			if root == "" {
				continue
			}
			pp.search = addPath(pp.search, root+"/"+shareBin)
			pp.search = addPath(pp.search, root+"/"+plat.bin())
			pp.libs = addPath(pp.libs, root+"/"+plat.lib())
		}
	case pkg.IsA(dal.ClassSWExternalPackage):
		patch, install := pkg.Str(dal.AttrPatchArea), pkg.Str(dal.AttrInstallationPath)
		add := func(paths []string, mappings []*confdb.Object) []string {
			for _, m := range mappings {
				if !plat.matches(m) {
					continue
				}
				if patch != "" {
					paths = addPath(paths, patch+"/"+m.Str(dal.AttrValue))
				}
				return addPath(paths, install+"/"+m.Str(dal.AttrValue))
			}
			return paths
		}
		pp.search = add(pp.search, pkg.Rel(dal.RelBinaries))
		pp.libs = add(pp.libs, pkg.Rel(dal.RelSharedLibraries))
	default:
		return fmt.Errorf("%s is neither a %s nor a %s", pkg, dal.ClassSWRepository, dal.ClassSWExternalPackage)
	}

	release, err := f.Enter(pkg.UID())
	if err != nil {
		return err
	}
	defer release()
	for _, u := range pkg.Rel(dal.RelUses) {
		if err := collectPaths(u, plat, pp, f); err != nil {
			return err
		}
	}
	return nil
}

// programName returns the executable name of program for tag.
func programName(program, tag *confdb.Object) (name string, script bool, err error) {
	switch {
	case program.IsA(dal.ClassScript):
		if name = program.Str(dal.AttrBinaryName); name == "" {
			return "", true, badProgram(program, "program has no BinaryName defined (name of script)", nil)
		}
		return name, true, nil
	case program.IsA(dal.ClassBinary):
		impls := program.Rel(dal.RelExactImplementations)
		if len(impls) == 0 {
			if name = program.Str(dal.AttrBinaryName); name == "" {
				return "", false, badProgram(program, "program has no BinaryName defined (no exact implementation)", nil)
			}
			return name, false, nil
		}
		for _, f := range impls {
			if f.Ref(dal.RelTag).Same(tag) {
				if name = f.Str(dal.AttrBinaryName); name != "" {
					return name, false, nil
				}
			}
		}
		return "", false, badTag(tag, fmt.Sprintf("the program %s has no exact implementation for it", program), nil)
	default:
		return "", false, badProgram(program, "program is not a Script or a Binary", nil)
	}
}

// resolveProgram computes the candidate executables and the search and
// library paths of program for one tag. A BAD_TAG error means the next tag
// may still work; any other error is final.
func resolveProgram(program, tag, host, part *confdb.Object, fuseLimit int) (*programPaths, error) {
	belongsTo := program.Ref(dal.RelBelongsTo)
	if belongsTo == nil {
		return nil, badProgram(program, "program does not belong to any software package", nil)
	}

	if !IsCompatible(tag, host, part) {
		return nil, badTag(tag, fmt.Sprintf("this tag is not applicable on host %s with hw tag %q", host.UID(), host.Str(dal.AttrHWTag)), nil)
	}

	plat := platformOf(tag)
	f := fuse.New("program tags", program.UID(), fuseLimit)
	for _, pkg := range append([]*confdb.Object{belongsTo}, program.Rel(dal.RelUses)...) {
		if err := checkTag(pkg, tag, plat, f); err != nil {
			return nil, badTag(tag, fmt.Sprintf("%s is not compatible (running on host %s)", program, host), err)
		}
	}

	name, script, err := programName(program, tag)
	if err != nil {
		return nil, err
	}

	pp := &programPaths{}
	if name[0] == '/' {
		pp.names = []string{name}
	} else {
		suffix := plat.bin()
		if script {
			suffix = shareBin
		}
		if root := part.Str(dal.AttrRepositoryRoot); root != "" {
			pp.names = append(pp.names, root+"/"+suffix+"/"+name)
		}
		if patch := belongsTo.Str(dal.AttrPatchArea); patch != "" {
			pp.names = append(pp.names, patch+"/"+suffix+"/"+name)
		}
		pp.names = append(pp.names, belongsTo.Str(dal.AttrInstallationPath)+"/"+suffix+"/"+name)
	}

	if root := part.Str(dal.AttrRepositoryRoot); root != "" {
		pp.search = append(pp.search, root+"/"+shareBin, root+"/"+plat.bin())
		pp.libs = append(pp.libs, root+"/"+plat.lib())
	}

	f = fuse.New("program binary and library paths", program.UID(), fuseLimit)
	for _, pkg := range append(program.Rel(dal.RelUses), belongsTo) {
		if err := collectPaths(pkg, plat, pp, f); err != nil {
			return nil, badProgram(program, "failed to get binary and library paths", err)
		}
	}
	return pp, nil
}
