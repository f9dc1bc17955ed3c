package onepassword

import (
	"encoding/json"

	"github.com/wippyai/op-bridge/errors"
)

// Invocation names understood by the core.
const (
	OpVaultsList     = "VaultsList"
	OpItemsList      = "ItemsList"
	OpSecretsResolve = "SecretsResolve"
)

type invocationEnvelope struct {
	Invocation invocation `json:"invocation"`
}

type invocation struct {
	ClientID   uint64     `json:"clientId"`
	Parameters parameters `json:"parameters"`
}

// parameters is the tagged union {"name": ..., "parameters": {...}}.
type parameters struct {
	Name       string `json:"name"`
	Parameters any    `json:"parameters"`
}

// vaultsList carries no arguments; the core expects an explicit null marker.
type vaultsList struct {
	Marker *struct{} `json:"_marker"`
}

type itemsList struct {
	VaultID string   `json:"vault_id"`
	Filters []string `json:"filters"`
}

type secretsResolve struct {
	SecretReference string `json:"secret_reference"`
}

func vaultsListParams() parameters {
	return parameters{Name: OpVaultsList, Parameters: vaultsList{}}
}

func itemsListParams(vaultID string) parameters {
	return parameters{Name: OpItemsList, Parameters: itemsList{VaultID: vaultID, Filters: []string{}}}
}

func secretsResolveParams(ref string) parameters {
	return parameters{Name: OpSecretsResolve, Parameters: secretsResolve{SecretReference: ref}}
}

func encodeInvocation(clientID uint64, p parameters) ([]byte, error) {
	b, err := json.Marshal(invocationEnvelope{Invocation: invocation{ClientID: clientID, Parameters: p}})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "encode "+p.Name+" invocation")
	}
	return b, nil
}

func decodeResult[T any](name string, data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "decode "+name+" result")
	}
	return v, nil
}
