package daemon

// This file holds request/response record shapes for operations whose wire
// format is irregular enough that the Operation Registry's generic
// field-list codec (registry.go) can't express them.

// AddToStoreNarRequest is the request body for OpAddToStoreNar. The NAR
// content follows as a framed stream.
type AddToStoreNarRequest struct {
	Info          PathInfo
	Repair        bool
	DontCheckSigs bool
}

// BuildDerivationRequest is the request body for OpBuildDerivation.
type BuildDerivationRequest struct {
	StorePath string
	Drv       *BasicDerivation
	Mode      BuildMode
}

// DerivedPathBuildResult pairs a derived path with its build outcome, as
// returned by OpBuildPathsWithResults.
type DerivedPathBuildResult struct {
	Path   string
	Result BuildResult
}
