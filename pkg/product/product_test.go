package product_test

import (
	"testing"

	"github.com/atlas-desktop/settlement-arbitrage/pkg/product"
	"github.com/stretchr/testify/assert"
)

func TestCodeOfExtractsProductPrefix(t *testing.T) {
	cases := map[string]string{
		"IM2503": "IM",
		"ic0":    "IC",
		" IH0 ":  "IH",
		"I":      "I",
	}
	for in, want := range cases {
		assert.Equal(t, want, product.CodeOf(in), "CodeOf(%q)", in)
	}
}

func TestLookupFallsBackToDefaultSpec(t *testing.T) {
	assert.Equal(t, product.DefaultSpec, product.Lookup("ZZ2503"))
	assert.Equal(t, product.Table["IC"], product.Lookup("IC2503"))
}

func TestNormalizeBareCodeToMainContract(t *testing.T) {
	assert.Equal(t, "IM0", product.Normalize("IM"))
	assert.Equal(t, "IM2503", product.Normalize("IM2503"), "expected unchanged")
}

func TestIsMainContract(t *testing.T) {
	assert.True(t, product.IsMainContract("im0"), "expected im0 to be recognized as a main contract")
	assert.False(t, product.IsMainContract("IM2503"), "expected IM2503 to not be a main contract")
}
