package main

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// fieldCode maps a failing top-level field to the error code clients see.
// An empty field matches "required" errors.
type fieldCode struct {
	field string
	code  string
}

// requestSchema validates a request document against an embedded JSON Schema.
// When several fields fail, the first entry in codes wins.
type requestSchema struct {
	schema *gojsonschema.Schema
	codes  []fieldCode
}

var (
	registerSchema = mustRequestSchema("register.json",
		fieldCode{"", "missing_fields"},
		fieldCode{"email", "invalid_email"},
		fieldCode{"password", "password_too_short"},
		fieldCode{"name", "invalid_name"},
		fieldCode{"gender", "invalid_gender"},
		fieldCode{"date_of_birth", "invalid_date_of_birth"},
	)

	profileUpdateSchema = mustRequestSchema("profile_update.json",
		fieldCode{"name", "invalid_name"},
		fieldCode{"bio", "bio_too_long"},
		fieldCode{"occupation", "invalid_occupation"},
		fieldCode{"location", "invalid_location"},
		fieldCode{"latitude", "invalid_latitude"},
		fieldCode{"longitude", "invalid_longitude"},
		fieldCode{"gender", "invalid_gender"},
		fieldCode{"date_of_birth", "invalid_date_of_birth"},
	)

	preferencesSchema = mustRequestSchema("preferences.json",
		fieldCode{"min_age", "invalid_age_range"},
		fieldCode{"max_age", "invalid_age_range"},
		fieldCode{"max_distance", "invalid_max_distance"},
		fieldCode{"looking_for", "invalid_gender"},
	)
)

func mustRequestSchema(name string, codes ...fieldCode) *requestSchema {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return &requestSchema{schema: s, codes: codes}
}

// check returns "" when doc is valid, otherwise the error code of the most
// significant failing field.
func (rs *requestSchema) check(doc any) string {
	res, err := rs.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return "invalid_request"
	}
	if res.Valid() {
		return ""
	}

	failed := make(map[string]bool, len(res.Errors()))
	for _, e := range res.Errors() {
		if e.Type() == "required" {
			failed[""] = true
			continue
		}
		field, _, _ := strings.Cut(e.Field(), ".")
		failed[field] = true
	}
	for _, fc := range rs.codes {
		if failed[fc.field] {
			return fc.code
		}
	}
	return "invalid_request"
}

// presentFields drops blank values so the schema's required list sees them as missing.
func presentFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
