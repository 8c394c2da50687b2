package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDealTitle(t *testing.T) {
	assert.NoError(t, ValidateDealTitle("  Скин AWP  "))
	assert.Error(t, ValidateDealTitle("   "))
	assert.Error(t, ValidateDealTitle(strings.Repeat("я", MaxDealTitleLength+1)))
	assert.NoError(t, ValidateDealTitle(strings.Repeat("я", MaxDealTitleLength)))
}

func TestValidateMediaFiles(t *testing.T) {
	assert.NoError(t, ValidateMediaFiles(nil))
	assert.NoError(t, ValidateMediaFiles([]string{"https://cdn.example.com/a.png"}))
	assert.Error(t, ValidateMediaFiles([]string{"ftp://cdn.example.com/a.png"}))
	assert.Error(t, ValidateMediaFiles([]string{"https://"}))
	assert.Error(t, ValidateMediaFiles(make([]string, MaxMediaFiles+1)))
}

func TestValidateWalletAddress(t *testing.T) {
	tests := []struct {
		address string
		valid   bool
	}{
		{"0x71C7656EC7ab88b098defB751B7401B5f6d8976F", true},
		{" TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf ", true},
		{"", false},
		{"0x1", false},
		{"0x71C7 656E", false},
		{"<script>", false},
	}
	for _, tt := range tests {
		err := ValidateWalletAddress(tt.address)
		if tt.valid {
			assert.NoError(t, err, tt.address)
		} else {
			assert.Error(t, err, tt.address)
		}
	}
}

func TestValidateCommentAndReason(t *testing.T) {
	assert.NoError(t, ValidateComment(nil))
	long := strings.Repeat("a", MaxCommentLength+1)
	assert.Error(t, ValidateComment(&long))

	assert.Error(t, ValidateReason(" "))
	assert.NoError(t, ValidateReason("мошенничество"))
}
