package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/Leadrat/Quotation-Management-System-sub012/pkg/errors"
)

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Str0ng!pass", false},
		{"too short", "S1!a", true},
		{"no lowercase", "STR0NG!PASS", true},
		{"no uppercase", "str0ng!pass", true},
		{"no digit", "Strong!pass", true},
		{"no symbol", "Str0ngpass1", true},
		{"empty", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password)
			if tc.wantErr {
				assert.True(t, appErrors.Is(err, appErrors.ErrWeakPassword))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePasswordMessagesNameTheRule(t *testing.T) {
	err := ValidatePassword("str0ng!pass")
	assert.Contains(t, err.Error(), "uppercase")

	err = ValidatePassword("Strong!pass")
	assert.Contains(t, err.Error(), "digit")
}
