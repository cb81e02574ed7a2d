package parse

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Job roles. The empty role is the event's primary deadline.
const (
	RolePrimary = ""
	RoleExpire  = "expire"
	RoleCancel  = "cancel"
	RoleBegin   = "begin"
	RoleEnd     = "end"
)

// JobID derives a scheduler job id from an owner id and a role tag.
func JobID(owner uuid.UUID, role string) string {
	if role == RolePrimary {
		return owner.String()
	}
	return owner.String() + "-" + role
}

// ParseJobID splits a job id back into its owner id and role.
func ParseJobID(jobID string) (uuid.UUID, string, error) {
	const idLen = 36
	if len(jobID) < idLen {
		return uuid.Nil, "", fmt.Errorf("job id %q is too short", jobID)
	}
	owner, err := uuid.Parse(jobID[:idLen])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("job id %q has no owner id: %w", jobID, err)
	}
	rest := jobID[idLen:]
	if rest == "" {
		return owner, RolePrimary, nil
	}
	if !strings.HasPrefix(rest, "-") || len(rest) == 1 {
		return uuid.Nil, "", fmt.Errorf("job id %q has a malformed role suffix", jobID)
	}
	return owner, rest[1:], nil
}
