// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

type testRequest struct {
	OrgID     string   `json:"orgId" validate:"required,identifier"`
	Name      string   `json:"name" validate:"required,max=16"`
	DeviceIDs []string `json:"deviceIds" validate:"omitempty,max=3,dive,identifier"`
	Priority  int      `json:"priority" validate:"gte=0,lte=10"`
	Mode      string   `json:"mode" validate:"omitempty,oneof=fast slow"`
	Zone      string   `json:"zone" validate:"omitempty,timezone"`
	Internal  string   `json:"-"`
}

func validRequest() testRequest {
	return testRequest{OrgID: "org-1", Name: "rollout", DeviceIDs: []string{"dev.1", "dev:2"}, Priority: 5}
}

func TestValidateStruct_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input testRequest
	}{
		{"all fields", testRequest{OrgID: "org_1", Name: "a", DeviceIDs: []string{"d"}, Priority: 10, Mode: "fast", Zone: "Europe/Berlin"}},
		{"minimal", testRequest{OrgID: "o", Name: "n"}},
		{"defaults", validRequest()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verr := ValidateStruct(&tt.input); verr != nil {
				t.Errorf("ValidateStruct() = %v, want nil", verr)
			}
		})
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *testRequest)
		wantField string
		wantTag   string
		wantMsg   string
	}{
		{"missing org", func(r *testRequest) { r.OrgID = "" }, "orgId", "required", "orgId is required"},
		{"bad identifier", func(r *testRequest) { r.OrgID = "org one" }, "orgId", "identifier", "orgId must be"},
		{"long name", func(r *testRequest) { r.Name = strings.Repeat("x", 17) }, "name", "max", "name must be at most 16 characters"},
		{"too many devices", func(r *testRequest) { r.DeviceIDs = []string{"a", "b", "c", "d"} }, "deviceIds", "max", "deviceIds must be at most 3 items"},
		{"bad device id", func(r *testRequest) { r.DeviceIDs = []string{"ok", "-bad"} }, "deviceIds[1]", "identifier", "deviceIds[1] must be"},
		{"priority high", func(r *testRequest) { r.Priority = 11 }, "priority", "lte", "priority must be less than or equal to 10"},
		{"bad mode", func(r *testRequest) { r.Mode = "medium" }, "mode", "oneof", "mode must be one of: fast slow"},
		{"bad zone", func(r *testRequest) { r.Zone = "Mars/Olympus" }, "zone", "timezone", "zone must be an IANA time zone name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			verr := ValidateStruct(&req)
			if verr == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := verr.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), verr)
			}
			if errs[0].Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", errs[0].Field(), tt.wantField)
			}
			if errs[0].Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", errs[0].Tag(), tt.wantTag)
			}
			if !strings.HasPrefix(errs[0].Error(), tt.wantMsg) {
				t.Errorf("Error() = %q, want prefix %q", errs[0].Error(), tt.wantMsg)
			}
		})
	}
}

func TestToAPIError_SingleError(t *testing.T) {
	req := validRequest()
	req.Name = ""

	apiErr := ValidateStruct(&req).ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if apiErr.Message != "name is required" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "name is required")
	}
	if apiErr.Details["field"] != "name" {
		t.Errorf("Details[field] = %v, want name", apiErr.Details["field"])
	}
}

func TestToAPIError_MultipleErrors(t *testing.T) {
	req := testRequest{Priority: -1}

	apiErr := ValidateStruct(&req).ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Details[fields] has type %T", apiErr.Details["fields"])
	}
	if len(fields) != 3 {
		t.Errorf("got %d field errors, want 3", len(fields))
	}
	for _, want := range []string{"orgId:", "name:", "priority:"} {
		if !strings.Contains(apiErr.Message, want) {
			t.Errorf("Message %q does not mention %q", apiErr.Message, want)
		}
	}
}

func TestToAPIError_Empty(t *testing.T) {
	apiErr := (&RequestValidationError{}).ToAPIError()
	if apiErr.Message != "Validation failed" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

type shapedRequest struct {
	Kind  string `json:"kind" validate:"required"`
	Count int    `json:"count"`
}

func (r *shapedRequest) Validate() error {
	if r.Kind == "batch" && r.Count == 0 {
		return errors.New("count is required for batch requests")
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   shapedRequest
		wantTag string
	}{
		{"valid", shapedRequest{Kind: "batch", Count: 2}, ""},
		{"tag failure wins", shapedRequest{}, "required"},
		{"shape failure", shapedRequest{Kind: "batch"}, "shape"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateRequest(&tt.input)
			if tt.wantTag == "" {
				if verr != nil {
					t.Errorf("ValidateRequest() = %v, want nil", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("ValidateRequest() = nil, want error")
			}
			if got := verr.Errors()[0].Tag(); got != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", got, tt.wantTag)
			}
		})
	}
}
