package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// CheckResultCompatibility checks that results written by writerVersion can
// be read by readerVersion.
//
// Compatibility Rules:
//   - If either version is "main" (development build), the check is skipped
//   - Major versions must match exactly
//   - Results from a newer minor version cannot be read
//   - Patch versions can differ
//
// Examples:
//   - Writer 1.2.0, Reader 1.2.5 -> OK (patch differs)
//   - Writer 1.1.0, Reader 1.2.0 -> OK (older results)
//   - Writer 1.3.0, Reader 1.2.0 -> ERROR (newer minor)
//   - Writer 2.0.0, Reader 1.2.0 -> ERROR (major differs)
//   - Writer main, Reader 1.2.0 -> OK (dev build, skip check)
func CheckResultCompatibility(writerVersion, readerVersion string) error {
	writerVersion = strings.TrimPrefix(writerVersion, "v")
	readerVersion = strings.TrimPrefix(readerVersion, "v")

	if writerVersion == "main" || readerVersion == "main" {
		return nil
	}

	writer, err := semver.NewVersion(writerVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid result version '%s'", writerVersion)
	}

	reader, err := semver.NewVersion(readerVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid reader version '%s'", readerVersion)
	}

	if writer.Major() != reader.Major() {
		return errors.Newf(errors.ErrCodeInvalidVersion, "major version mismatch: results are %d.x.x but vfunds is %d.x.x",
			writer.Major(), reader.Major())
	}

	if writer.Minor() > reader.Minor() {
		return errors.Newf(errors.ErrCodeInvalidVersion, "results were written by %d.%d.x, newer than vfunds %d.%d.x",
			writer.Major(), writer.Minor(), reader.Major(), reader.Minor())
	}

	return nil
}
