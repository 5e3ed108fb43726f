package model

import "time"

// DidStatus is the lifecycle status recorded in a document's metadata.
type DidStatus string

const (
	DidStatusActive      DidStatus = "active"
	DidStatusDeactivated DidStatus = "deactivated"
	DidStatusRecovered   DidStatus = "recovered"
)

// UpdatedByRecovery marks metadata written by a guardian recovery rather
// than a controller transaction.
const UpdatedByRecovery = "guardian-recovery"

// VerificationMethod is a cryptographic key or capability bound to a DID.
// Revocation removes the entry from the document's list.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
	PublicKeyJwk       string `json:"publicKeyJwk,omitempty"`
}

// Service is a service endpoint advertised by a DID document.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// DidMetadata carries registry bookkeeping for a document.
type DidMetadata struct {
	Created            time.Time  `json:"created"`
	Updated            time.Time  `json:"updated"`
	Version            uint64     `json:"version"`
	Status             DidStatus  `json:"status"`
	Creator            string     `json:"creator"`
	UpdatedBy          string     `json:"updatedBy"`
	DeactivatedAt      *time.Time `json:"deactivatedAt,omitempty"`
	DeactivationReason string     `json:"deactivationReason,omitempty"`
}

// DidDocument is the registry's stored representation of a DID document.
type DidDocument struct {
	ObjectType          string               `json:"objectType"`
	ID                  string               `json:"id"`
	Context             []string             `json:"@context"`
	Controller          []string             `json:"controller"`
	VerificationMethods []VerificationMethod `json:"verificationMethod"`
	Authentication      []string             `json:"authentication"`
	AssertionMethod     []string             `json:"assertionMethod"`
	Services            []Service            `json:"service"`
	Metadata            DidMetadata          `json:"metadata"`
}

// Guardian is one recovery party configured for a DID.
type Guardian struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
}

// GuardianConfig holds the recovery policy for a DID: who may recover it
// and how many of them must agree.
type GuardianConfig struct {
	ObjectType string     `json:"objectType"`
	DidID      string     `json:"didId"`
	Guardians  []Guardian `json:"guardians"`
	Threshold  uint32     `json:"threshold"`
	UpdatedBy  string     `json:"updatedBy"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// GuardianSignature is one guardian's approval of a recovery request.
type GuardianSignature struct {
	GuardianID string `json:"guardianId"`
	Signature  string `json:"signature"` // base64
}

// RecoveryResult reports the outcome of a successful RecoverDID.
type RecoveryResult struct {
	DidID       string `json:"didId"`
	Version     uint64 `json:"version"`
	Reactivated bool   `json:"reactivated"` // true when recovered in place, false when replaced
}
