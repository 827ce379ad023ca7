package mutex

import (
	"time"

	"golang.org/x/mod/semver"
)

// Version information for the mutex package.
const (
	// Version is the current semantic version of the package.
	Version = "v0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info describes the locking algorithm compiled into the package.
type Info struct {
	// Version is the package version string.
	Version string

	// Algorithm names the locking strategy.
	Algorithm string

	// StarvationThreshold is the default racy-to-fair escalation threshold.
	StarvationThreshold time.Duration
}

// GetInfo returns information about the package.
//
// Example:
//
//	info := mutex.GetInfo()
//	fmt.Printf("mutex %s (%s)\n", info.Version, info.Algorithm)
func GetInfo() Info {
	return Info{
		Version:             Version,
		Algorithm:           "eventually fair (racy, escalating to FIFO)",
		StarvationThreshold: DefaultStarvationThreshold,
	}
}

// Compatible reports whether code written against version v can use this
// build of the package: v must be a valid semantic version with the same
// major version, no newer than Version.
//
// Example:
//
//	mutex.Compatible("v0.1.0") // true
//	mutex.Compatible("v1.0.0") // false
func Compatible(v string) bool {
	if !semver.IsValid(v) {
		return false
	}
	return semver.Major(v) == semver.Major(Version) && semver.Compare(v, Version) <= 0
}
