package model

import "time"

// Principal is the verified identity attached to an authorized request.
// Only token.Service.Verify produces it.
type Principal struct {
	IdentityID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// FederatedClaim is the identity asserted by an external provider after its
// signature, audience, issuer and expiry have been checked. Only a
// federated verifier produces it.
type FederatedClaim struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
}
