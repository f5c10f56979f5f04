package models

import (
	"fmt"
	"time"
)

type CredentialStatus string

const (
	CredentialActive    CredentialStatus = "active"
	CredentialExhausted CredentialStatus = "exhausted"
	CredentialError     CredentialStatus = "error"
)

// Credential is a metered proxy sub-account. UsedBytes only ever comes from
// an upstream traffic read, never from local accounting.
type Credential struct {
	ID            string           `json:"id"`
	Identity      string           `json:"identity"`
	Secret        string           `json:"-"`
	QuotaBytes    int64            `json:"quota_bytes"`
	UsedBytes     int64            `json:"used_bytes"`
	Status        CredentialStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	LastCheckedAt time.Time        `json:"last_checked_at"`
}

// Classify derives the status from usage. warnBytes is the near-limit
// threshold; the second return reports whether the credential is usable but
// approaching its quota.
func (c *Credential) Classify(warnBytes int64) (CredentialStatus, bool) {
	if c.UsedBytes >= c.QuotaBytes {
		return CredentialExhausted, false
	}
	return CredentialActive, c.UsedBytes >= warnBytes
}

func (c *Credential) Usable(warnBytes int64) bool {
	status, nearLimit := c.Classify(warnBytes)
	return status == CredentialActive && !nearLimit
}

// MaskedSecret is the only form of the secret that may appear in logs.
func (c *Credential) MaskedSecret() string {
	if len(c.Secret) <= 4 {
		return "****"
	}
	return c.Secret[:4] + "****"
}

func (c *Credential) String() string {
	return fmt.Sprintf("credential{identity=%s status=%s used=%d/%d}",
		c.Identity, c.Status, c.UsedBytes, c.QuotaBytes)
}
