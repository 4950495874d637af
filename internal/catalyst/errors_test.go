package catalyst

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, KindDuplicateItem, classify("", "Domain ALREADY IN CART"))
	assert.Equal(t, KindInsufficientCredits, classify("", "Insufficient credits: balance 3.00"))
	assert.Equal(t, KindInsufficientCredits, classify("insufficient_credits", ""))
	assert.Equal(t, KindUnknown, classify("", "timeout"))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("pay: %w", &Error{Endpoint: EndpointPayWithCredits, Kind: KindInsufficientCredits})
	assert.Equal(t, KindInsufficientCredits, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}
