package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type window struct {
	Feed  string `validate:"omitempty,oneof=catalog availability"`
	Limit int    `validate:"omitempty,min=1"`
}

func TestValidate(t *testing.T) {
	t.Run("should accept zero values and allowed values", func(t *testing.T) {
		for _, w := range []window{{}, {Feed: "catalog", Limit: 1}, {Feed: "availability"}} {
			_, err := Validate(w)
			assert.NoError(t, err)
		}
	})

	t.Run("should name every failed field", func(t *testing.T) {
		_, err := Validate(window{Feed: "prices", Limit: -3})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "field 'Feed' failed rule 'oneof'")
		assert.Contains(t, err.Error(), "field 'Limit' failed rule 'min'")
	})
}

func TestValidationErrorToString_PassesOtherErrorsThrough(t *testing.T) {
	cause := errors.New("boom")

	assert.Same(t, cause, ValidationErrorToString(window{}, cause))
}
