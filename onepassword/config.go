package onepassword

import (
	"runtime"

	"github.com/go-playground/validator/v10"

	opbridge "github.com/wippyai/op-bridge"
	"github.com/wippyai/op-bridge/errors"
)

// SDKVersion is the SDK release the core expects clients to identify as.
const SDKVersion = "0030101"

// ClientConfig is sent to the core when a client is created.
type ClientConfig struct {
	ServiceAccountToken   string `json:"serviceAccountToken" validate:"required"`
	IntegrationName       string `json:"integrationName" validate:"required"`
	IntegrationVersion    string `json:"integrationVersion" validate:"required"`
	SDKVersion            string `json:"sdkVersion" validate:"required,numeric,len=7"`
	RequestLibraryName    string `json:"requestLibraryName"`
	RequestLibraryVersion string `json:"requestLibraryVersion"`
	OS                    string `json:"os" validate:"required"`
	OSVersion             string `json:"osVersion"`
	Architecture          string `json:"architecture" validate:"required"`
	ProgrammingLanguage   string `json:"programmingLanguage" validate:"required"`
}

// DefaultClientConfig fills everything but the token from the running process.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		ServiceAccountToken:   token,
		IntegrationName:       "op-bridge",
		IntegrationVersion:    opbridge.Version,
		SDKVersion:            SDKVersion,
		RequestLibraryName:    "reqwest",
		RequestLibraryVersion: "0.11.24",
		OS:                    runtime.GOOS,
		OSVersion:             "0.0.0",
		Architecture:          architecture(runtime.GOARCH),
		ProgrammingLanguage:   "Go",
	}
}

func architecture(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "x86"
	default:
		return goarch
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that every field the core requires is set.
func (c ClientConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New(errors.PhaseClient, errors.KindInvalidInput).
			Cause(err).
			Detail("invalid client config").
			Build()
	}
	return nil
}

// String omits the token.
func (c ClientConfig) String() string {
	return "ClientConfig{integration: " + c.IntegrationName + "/" + c.IntegrationVersion +
		", sdk: " + c.SDKVersion + ", token: " + Secret(c.ServiceAccountToken).String() + "}"
}
