package deployment

import (
	"fmt"
	"time"
)

// =============================================================================
// Blob Naming Functions
// =============================================================================

// ReleasesContainer is the blob container artifacts are staged in.
const ReleasesContainer = "function-releases"

// Extension returns the file extension of the artifact format, without dot.
func (f ArtifactFormat) Extension() string {
	if f == FormatSquashfs {
		return "squashfs"
	}
	return "zip"
}

// BlobName generates the staged blob name for an artifact.
// Pattern: {yyyyMMddHHmmss}-{id}.{ext}, timestamp in UTC.
//
// Example:
//
//	BlobName(t, "abc123", FormatZip) // returns "20240102030405-abc123.zip"
func BlobName(now time.Time, id string, format ArtifactFormat) string {
	return fmt.Sprintf("%s-%s.%s", now.UTC().Format("20060102150405"), id, format.Extension())
}

// SASWindow returns the validity window of the read-only access token minted
// for a staged blob: from five minutes before now to ten years after it.
func SASWindow(now time.Time) (start, expiry time.Time) {
	now = now.UTC()
	return now.Add(-5 * time.Minute), now.AddDate(10, 0, 0)
}
