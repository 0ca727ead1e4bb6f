package errors

// Error code constants organized by stage
// A001-A099: Archive errors
// R001-R099: Resolution errors
// P001-P099: Patch errors
// V001-V099: Verification errors
// M001-M099: Manifest errors
// C001-C099: Catalog errors
// S001-S099: Session errors

const (
	// Archive errors (A001-A099)
	ErrArchiveFormat    = "A001"
	ErrSideStoreMissing = "A002"
	ErrArchiveIO        = "A003"
	ErrNodeNotFound     = "A004"
	ErrCodecFailed      = "A005"

	// Resolution errors (R001-R099)
	ErrRoleUnresolved       = "R001"
	ErrRoleAmbiguous        = "R002"
	ErrDependencyUnresolved = "R003"
	ErrSymbolUnresolved     = "R004"
	ErrUnknownRole          = "R005"

	// Patch errors (P001-P099)
	ErrAnchorNotFound       = "P001"
	ErrAmbiguousMatch       = "P002"
	ErrUnbalancedDelimiters = "P003"
	ErrReplacementFailed    = "P004"
	ErrDependencyFailed     = "P005"
	ErrSpecUnresolved       = "P006"

	// Verification errors (V001-V099)
	ErrSyntaxValidation = "V001"
	ErrAssertionFailed  = "V002"
	ErrThresholdNotMet  = "V003"

	// Manifest errors (M001-M099)
	ErrManifestStale   = "M001"
	ErrManifestInvalid = "M002"

	// Catalog errors (C001-C099)
	ErrCatalogInvalid = "C001"
	ErrTemplateFailed = "C002"

	// Session errors (S001-S099)
	ErrSessionAborted = "S001"
	ErrInstallFailed  = "S002"
)

// ErrorMessages maps error codes to their default messages
var ErrorMessages = map[string]string{
	ErrArchiveFormat:    "Malformed archive header",
	ErrSideStoreMissing: "Side-store directory is missing",
	ErrArchiveIO:        "Archive could not be read",
	ErrNodeNotFound:     "No such entry in archive",
	ErrCodecFailed:      "Container codec failed",

	ErrRoleUnresolved:       "No artifact matches the role",
	ErrRoleAmbiguous:        "Several artifacts match the role",
	ErrDependencyUnresolved: "Role depends on an unresolved role",
	ErrSymbolUnresolved:     "Symbol could not be bound",
	ErrUnknownRole:          "Unknown role",

	ErrAnchorNotFound:       "Anchor not found",
	ErrAmbiguousMatch:       "Anchor matches more than once",
	ErrUnbalancedDelimiters: "Unbalanced delimiters after anchor",
	ErrReplacementFailed:    "Replacement could not be computed",
	ErrDependencyFailed:     "Prerequisite patch did not apply",
	ErrSpecUnresolved:       "Patch references an unresolved symbol",

	ErrSyntaxValidation: "Artifact is not syntactically valid",
	ErrAssertionFailed:  "Assertion failed",
	ErrThresholdNotMet:  "Verification threshold not met",

	ErrManifestStale:   "Role manifest belongs to another build version",
	ErrManifestInvalid: "Role manifest is invalid",

	ErrCatalogInvalid: "Patch catalog is invalid",
	ErrTemplateFailed: "Template rendering failed",

	ErrSessionAborted: "Session aborted",
	ErrInstallFailed:  "Installer hand-off failed",
}

// StageForCode returns the stage a code belongs to
func StageForCode(code string) string {
	if code == "" {
		return ""
	}
	switch code[0] {
	case 'A':
		return "archive"
	case 'R':
		return "resolve"
	case 'P':
		return "patch"
	case 'V':
		return "verify"
	case 'M':
		return "manifest"
	case 'C':
		return "catalog"
	case 'S':
		return "session"
	default:
		return ""
	}
}
