package domain

import "path/filepath"

const (
	// KilnDirName is the name of the internal workspace directory.
	KilnDirName = ".kiln"

	// StoreDirName is the name of the persistent result store directory.
	StoreDirName = "store"

	// OutDirName is the name of the directory the emit stage writes to.
	OutDirName = "out"

	// ConfigFileName is the name of the project configuration file.
	ConfigFileName = "kiln.yaml"

	// InterfaceExt is the extension of emitted module interface files.
	InterfaceExt = ".iface"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644
)

// DefaultKilnPath returns the default root directory for kiln metadata.
func DefaultKilnPath() string {
	return KilnDirName
}

// DefaultStorePath returns the default path for the persistent result store.
// It joins .kiln and store.
func DefaultStorePath() string {
	return filepath.Join(KilnDirName, StoreDirName)
}

// DefaultOutPath returns the default path for emitted interfaces.
// It joins .kiln and out.
func DefaultOutPath() string {
	return filepath.Join(KilnDirName, OutDirName)
}
