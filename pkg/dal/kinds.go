package dal

// GateKind is the enable-gating behaviour of a resource container.
type GateKind int

const (
	// GateNone is any object that is not a ResourceSet.
	GateNone GateKind = iota
	// GatePlain is a ResourceSet without AND/OR semantics.
	GatePlain
	// GateAND is disabled once none of its children is enabled.
	GateAND
	// GateOR is disabled as soon as one child is disabled.
	GateOR
)

// String returns the gate name.
func (g GateKind) String() string {
	switch g {
	case GatePlain:
		return "set"
	case GateAND:
		return "and"
	case GateOR:
		return "or"
	default:
		return "none"
	}
}

// GateOf classifies o. AND is tested before OR, then the plain set.
func GateOf(o Object) GateKind {
	switch {
	case o.IsA(ClassResourceSetAND):
		return GateAND
	case o.IsA(ClassResourceSetOR):
		return GateOR
	case o.IsA(ClassResourceSet):
		return GatePlain
	default:
		return GateNone
	}
}

// IsSegment reports whether o is any kind of segment.
func IsSegment(o Object) bool { return o.IsA(ClassSegment) }

// IsTemplateSegment reports whether o is a template segment.
func IsTemplateSegment(o Object) bool { return o.IsA(ClassTemplateSegment) }

// IsResourceSet reports whether o is a resource container.
func IsResourceSet(o Object) bool { return o.IsA(ClassResourceSet) }

// IsApplication reports whether o is any kind of application.
func IsApplication(o Object) bool { return o.IsA(ClassBaseApplication) }

// IsTemplateApplication reports whether o is expanded per host at resolution time.
func IsTemplateApplication(o Object) bool { return o.IsA(ClassTemplateApplication) }

// IsInfrastructure reports whether o is an infrastructure application.
func IsInfrastructure(o Object) bool { return o.IsA(ClassInfrastructureBase) }

// IsResource reports whether o participates in resource gating.
func IsResource(o Object) bool { return o.IsA(ClassResourceBase) }

// IsComputer reports whether o is a single host.
func IsComputer(o Object) bool { return o.IsA(ClassComputer) }

// IsComputerSet reports whether o groups other hosts.
func IsComputerSet(o Object) bool { return o.IsA(ClassComputerSet) }

// AppKind tells how an application definition turns into running instances.
type AppKind int

const (
	// AppNone is any object that is not an application.
	AppNone AppKind = iota
	// AppNormal maps one definition to one instance.
	AppNormal
	// AppTemplate is multiplied per host and instance count.
	AppTemplate
)

// AppKindOf classifies o. Template is tested before normal because some
// template classes also derive from Resource.
func AppKindOf(o Object) AppKind {
	switch {
	case o.IsA(ClassTemplateApplication):
		return AppTemplate
	case o.IsA(ClassApplication):
		return AppNormal
	default:
		return AppNone
	}
}
