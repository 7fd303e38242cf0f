// Package ids generates the opaque string identifiers used for jobs, leases
// and workers.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for a job_id, lease_id or
// worker_id.
func New() string {
	return uuid.New().String()
}
