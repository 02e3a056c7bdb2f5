package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test struct with validation tags
type testCartRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=1000"`
	Email     string `json:"email" validate:"omitempty,email"`
}

func decode(t *testing.T, body map[string]interface{}) error {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/test", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	var dst testCartRequest
	return DecodeAndValidate(req, &dst)
}

// Feature: shopfront, Property 48: Required field validation works
func TestProperty_RequiredFieldValidationWorks(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("missing required fields are rejected", prop.ForAll(
		func(includeProduct bool, includeQuantity bool) bool {
			body := map[string]interface{}{}
			if includeProduct {
				body["product_id"] = uuid.NewString()
			}
			if includeQuantity {
				body["quantity"] = 2
			}

			err := decode(t, body)
			if includeProduct && includeQuantity {
				return err == nil
			}
			return err != nil
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: shopfront, Property 49: Validation errors name the field
func TestProperty_ValidationErrorsAreFormatted(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("each failing field is reported once", prop.ForAll(
		func(productID string) bool {
			raw, _ := json.Marshal(map[string]interface{}{"product_id": productID, "quantity": 0})
			req := httptest.NewRequest("POST", "/test", bytes.NewReader(raw))
			var dst testCartRequest
			err := DecodeAndValidate(req, &dst)
			if err == nil {
				return false
			}

			formatted := FormatValidationErrors(err)
			fields := map[string]bool{}
			for _, f := range formatted {
				if f.Message == "" {
					return false
				}
				fields[f.Field] = true
			}
			return fields["ProductID"] && fields["Quantity"] && len(formatted) == 2
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: shopfront, Property 50: Quantity bounds are enforced
func TestProperty_QuantityRangeValidation(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("quantity outside 1..1000 is rejected", prop.ForAll(
		func(qty int) bool {
			err := decode(t, map[string]interface{}{
				"product_id": uuid.NewString(),
				"quantity":   qty,
			})
			if qty >= 1 && qty <= 1000 {
				return err == nil
			}
			return err != nil
		},
		gen.IntRange(-100, 1200),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestDecodeAndValidate_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString("{not json"))
	var dst testCartRequest
	if err := DecodeAndValidate(req, &dst); err == nil {
		t.Fatal("expected decode error")
	}
	if got := FormatValidationErrors(nil); len(got) != 0 {
		t.Errorf("expected no formatted errors, got %v", got)
	}
}

func TestValidateRequest_DecimalBounds(t *testing.T) {
	type priced struct {
		Price decimal.Decimal  `validate:"gte=0"`
		Sale  *decimal.Decimal `validate:"omitempty,gte=0"`
	}

	assert.NoError(t, ValidateRequest(priced{Price: decimal.RequireFromString("0.00")}))
	assert.NoError(t, ValidateRequest(priced{Price: decimal.RequireFromString("12.50")}))

	err := ValidateRequest(priced{Price: decimal.RequireFromString("-0.01")})
	require.Error(t, err)
	formatted := FormatValidationErrors(err)
	require.Len(t, formatted, 1)
	assert.Equal(t, "Price", formatted[0].Field)
	assert.Equal(t, "Value must be greater than or equal to 0", formatted[0].Message)

	negative := decimal.NewFromInt(-3)
	assert.Error(t, ValidateRequest(priced{Price: decimal.NewFromInt(1), Sale: &negative}))
}

func TestDecodeAndValidate_RejectsOversizedBody(t *testing.T) {
	body := `{"email":"` + strings.Repeat("a", maxBodyBytes) + `@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var dst testCartRequest
	err := DecodeAndValidate(req, &dst)
	require.Error(t, err)
	assert.Nil(t, FormatValidationErrors(err))
}
