package dal

// Object is the minimal view of a stored configuration object the
// capability helpers need.
type Object interface {
	UID() string
	Class() string
	IsA(class string) bool
}

// ClassDef declares a class and its direct superclasses.
type ClassDef struct {
	Name         string   `json:"name" yaml:"name" validate:"required"`
	Superclasses []string `json:"superclasses,omitempty" yaml:"superclasses,omitempty"`
}

// Core class names.
const (
	ClassComponent                         = "Component"
	ClassResourceBase                      = "ResourceBase"
	ClassResource                          = "Resource"
	ClassResourceSet                       = "ResourceSet"
	ClassResourceSetAND                    = "ResourceSetAND"
	ClassResourceSetOR                     = "ResourceSetOR"
	ClassSegment                           = "Segment"
	ClassTemplateSegment                   = "TemplateSegment"
	ClassOnlineSegment                     = "OnlineSegment"
	ClassRack                              = "Rack"
	ClassComputerBase                      = "ComputerBase"
	ClassComputer                          = "Computer"
	ClassComputerSet                       = "ComputerSet"
	ClassTag                               = "Tag"
	ClassTagMapping                        = "TagMapping"
	ClassPlatformCompatibility             = "PlatformCompatibility"
	ClassParameter                         = "Parameter"
	ClassVariable                          = "Variable"
	ClassVariableSet                       = "VariableSet"
	ClassSWPackageVariable                 = "SW_PackageVariable"
	ClassSWObject                          = "SW_Object"
	ClassSWPackage                         = "SW_Package"
	ClassSWRepository                      = "SW_Repository"
	ClassSWExternalPackage                 = "SW_ExternalPackage"
	ClassComputerProgram                   = "ComputerProgram"
	ClassScript                            = "Script"
	ClassBinary                            = "Binary"
	ClassBinaryFile                        = "BinaryFile"
	ClassJarFile                           = "JarFile"
	ClassBaseApplication                   = "BaseApplication"
	ClassApplication                       = "Application"
	ClassTemplateApplication               = "TemplateApplication"
	ClassInfrastructureBase                = "InfrastructureBase"
	ClassInfrastructureApplication         = "InfrastructureApplication"
	ClassInfrastructureTemplateApplication = "InfrastructureTemplateApplication"
	ClassRunControlApplicationBase         = "RunControlApplicationBase"
	ClassRunControlApplication             = "RunControlApplication"
	ClassRunControlTemplateApplication     = "RunControlTemplateApplication"
	ClassResourceApplication               = "ResourceApplication"
	ClassResourceTemplateApplication       = "ResourceTemplateApplication"
	ClassPartition                         = "Partition"
)

// Attribute names.
const (
	AttrState                        = "State"
	AttrHWTag                        = "HW_Tag"
	AttrSWTag                        = "SW_Tag"
	AttrNumberOfCores                = "NumberOfCores"
	AttrValue                        = "Value"
	AttrName                         = "Name"
	AttrSuffix                       = "Suffix"
	AttrInstallationPath             = "InstallationPath"
	AttrPatchArea                    = "PatchArea"
	AttrTags                         = "Tags"
	AttrInstallationPathVariableName = "InstallationPathVariableName"
	AttrBinaryName                   = "BinaryName"
	AttrDefaultParameters            = "DefaultParameters"
	AttrShell                        = "Shell"
	AttrParameters                   = "Parameters"
	AttrRestartParameters            = "RestartParameters"
	AttrExitTimeout                  = "ExitTimeout"
	AttrActionTimeout                = "ActionTimeout"
	AttrInstances                    = "Instances"
	AttrRunsOn                       = "RunsOn"
	AttrSegmentProcEnvVarName        = "SegmentProcEnvVarName"
	AttrSegmentProcEnvVarParentName  = "SegmentProcEnvVarParentName"
	AttrSegmentProcEnvVarValue       = "SegmentProcEnvVarValue"
	AttrLogRoot                      = "LogRoot"
	AttrIPCRef                       = "IPCRef"
	AttrDBPath                       = "DBPath"
	AttrDBName                       = "DBName"
	AttrDBTechnology                 = "DBTechnology"
	AttrDBVersion                    = "DBVersion"
	AttrRepositoryRoot               = "RepositoryRoot"
)

// Relationship names.
const (
	RelContains                         = "Contains"
	RelIsControlledBy                   = "IsControlledBy"
	RelInfrastructure                   = "Infrastructure"
	RelApplications                     = "Applications"
	RelResources                        = "Resources"
	RelSegments                         = "Segments"
	RelHosts                            = "Hosts"
	RelDefaultTags                      = "DefaultTags"
	RelProcessEnvironment               = "ProcessEnvironment"
	RelParameters                       = "Parameters"
	RelRacks                            = "Racks"
	RelCompatibilityInfo                = "CompatibilityInfo"
	RelNodes                            = "Nodes"
	RelCompatibleWith                   = "CompatibleWith"
	RelTagValues                        = "TagValues"
	RelUses                             = "Uses"
	RelAddProcessEnvironment            = "AddProcessEnvironment"
	RelSWObjects                        = "SW_Objects"
	RelBinaries                         = "Binaries"
	RelSharedLibraries                  = "SharedLibraries"
	RelBelongsTo                        = "BelongsTo"
	RelExactImplementations             = "ExactImplementations"
	RelTag                              = "Tag"
	RelExplicitTag                      = "ExplicitTag"
	RelProgram                          = "Program"
	RelInitializationDependsFrom        = "InitializationDependsFrom"
	RelShutdownDependsFrom              = "ShutdownDependsFrom"
	RelRunsOn                           = "RunsOn"
	RelBackupHosts                      = "BackupHosts"
	RelOnlineInfrastructure             = "OnlineInfrastructure"
	RelOnlineInfrastructureApplications = "OnlineInfrastructureApplications"
	RelDisabled                         = "Disabled"
	RelDefaultHost                      = "DefaultHost"
)

// TemplateApplication RunsOn values.
const (
	RunsOnFirstHost           = "FirstHost"
	RunsOnFirstHostWithBackup = "FirstHostWithBackup"
	RunsOnAllButFirstHost     = "AllButFirstHost"
	RunsOnAllHosts            = "AllHosts"
)

// InfrastructureBase SegmentProcEnvVarValue values.
const (
	ProcEnvValueAppID           = "AppId"
	ProcEnvValueRunsOn          = "RunsOn"
	ProcEnvValueRunsOnAndBackup = "RunsOnAndBackup"
)

// Schema returns the core class hierarchy.
func Schema() []ClassDef {
	return []ClassDef{
		{Name: ClassComponent},
		{Name: ClassResourceBase, Superclasses: []string{ClassComponent}},
		{Name: ClassResource, Superclasses: []string{ClassResourceBase}},
		{Name: ClassResourceSet, Superclasses: []string{ClassResourceBase}},
		{Name: ClassResourceSetAND, Superclasses: []string{ClassResourceSet}},
		{Name: ClassResourceSetOR, Superclasses: []string{ClassResourceSet}},
		{Name: ClassSegment, Superclasses: []string{ClassComponent}},
		{Name: ClassTemplateSegment, Superclasses: []string{ClassSegment}},
		{Name: ClassOnlineSegment, Superclasses: []string{ClassSegment}},
		{Name: ClassRack, Superclasses: []string{ClassComponent}},
		{Name: ClassComputerBase},
		{Name: ClassComputer, Superclasses: []string{ClassComputerBase}},
		{Name: ClassComputerSet, Superclasses: []string{ClassComputerBase}},
		{Name: ClassTag},
		{Name: ClassTagMapping},
		{Name: ClassPlatformCompatibility},
		{Name: ClassParameter},
		{Name: ClassVariable, Superclasses: []string{ClassParameter}},
		{Name: ClassVariableSet, Superclasses: []string{ClassParameter}},
		{Name: ClassSWPackageVariable},
		{Name: ClassSWObject},
		{Name: ClassSWPackage, Superclasses: []string{ClassSWObject}},
		{Name: ClassSWRepository, Superclasses: []string{ClassSWPackage}},
		{Name: ClassSWExternalPackage, Superclasses: []string{ClassSWPackage}},
		{Name: ClassComputerProgram, Superclasses: []string{ClassSWObject}},
		{Name: ClassScript, Superclasses: []string{ClassComputerProgram}},
		{Name: ClassBinary, Superclasses: []string{ClassComputerProgram}},
		{Name: ClassBinaryFile, Superclasses: []string{ClassSWObject}},
		{Name: ClassJarFile, Superclasses: []string{ClassSWObject}},
		{Name: ClassBaseApplication, Superclasses: []string{ClassComponent}},
		{Name: ClassApplication, Superclasses: []string{ClassBaseApplication}},
		{Name: ClassTemplateApplication, Superclasses: []string{ClassBaseApplication}},
		{Name: ClassInfrastructureBase, Superclasses: []string{ClassBaseApplication}},
		{Name: ClassInfrastructureApplication, Superclasses: []string{ClassInfrastructureBase, ClassApplication}},
		{Name: ClassInfrastructureTemplateApplication, Superclasses: []string{ClassInfrastructureBase, ClassTemplateApplication}},
		{Name: ClassRunControlApplicationBase, Superclasses: []string{ClassBaseApplication}},
		{Name: ClassRunControlApplication, Superclasses: []string{ClassRunControlApplicationBase, ClassApplication}},
		{Name: ClassRunControlTemplateApplication, Superclasses: []string{ClassRunControlApplicationBase, ClassTemplateApplication}},
		{Name: ClassResourceApplication, Superclasses: []string{ClassApplication, ClassResource}},
		{Name: ClassResourceTemplateApplication, Superclasses: []string{ClassTemplateApplication, ClassResource}},
		{Name: ClassPartition, Superclasses: []string{ClassComponent}},
	}
}
