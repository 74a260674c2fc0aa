package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteKeyForms(t *testing.T) {
	key := RouteKey{Tenant: "team-a", Service: "payments", Env: "prod", Version: "v2"}

	assert.Equal(t, "team-a/payments/prod/v2", key.String())
	assert.Equal(t, "team-a:payments:prod:v2", key.PartitionKey())
	assert.Equal(t, "route:team-a:payments:prod:v2", key.CacheKey())
}

func TestRouteKeyValidate(t *testing.T) {
	valid := RouteKey{Tenant: "t", Service: "s", Env: "e", Version: "v"}
	assert.NoError(t, valid.Validate())

	incomplete := []RouteKey{
		{},
		{Tenant: "t"},
		{Tenant: "t", Service: "s"},
		{Tenant: "t", Service: "s", Env: "e"},
		{Service: "s", Env: "e", Version: "v"},
	}
	for _, key := range incomplete {
		err := key.Validate()
		assert.Error(t, err)
		assert.True(t, IsValidation(err))
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("   "))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(NewValidationError("bad field %q", "x")))
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", NewValidationError("bad"))))
	assert.False(t, IsValidation(errors.New("other")))
	assert.False(t, IsValidation(ErrRouteNotFound))
}
