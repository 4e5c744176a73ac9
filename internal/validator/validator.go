// Package validator checks command payloads against embedded JSON schemas before they are decoded.
package validator

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haulhub/backend/internal/apperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const maxBody = 1 << 20

// Schema names.
const (
	Register          = "register"
	Login             = "login"
	JobCreate         = "job_create"
	JobAction         = "job_action"
	ApplicationCreate = "application_create"
	ApplicationAction = "application_action"
	PickupConfirm     = "pickup_confirm"
	EvidenceCreate    = "evidence_create"
	DisputeOpen       = "dispute_open"
	AmendmentCreate   = "amendment_create"
	AmendmentAction   = "amendment_action"
	Resolve           = "resolve"
	WalletAmount      = "wallet_amount"
	DepositConfirm    = "deposit_confirm"
)

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		schemas[name], err = jsonschema.CompileString("https://haulhub.dev/schemas/"+name, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate returns a validation error if raw does not match the named schema.
func (v *Validator) Validate(name string, raw []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apperr.Validation("invalid JSON: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return apperr.Validation("%s", describe(err))
	}
	return nil
}

// Decode reads the request body, validates it and unmarshals it into dst.
func (v *Validator) Decode(r *http.Request, name string, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return apperr.Validation("read body: %v", err)
	}
	return v.Unmarshal(name, raw, dst)
}

// Unmarshal validates an already-read body against the named schema and unmarshals it into dst.
func (v *Validator) Unmarshal(name string, raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := v.Validate(name, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func describe(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, leaf.Message)
}
