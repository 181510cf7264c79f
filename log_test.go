package cardano

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestStackTracerMessage(t *testing.T) {
	assert.Empty(t, StackTracerMessage(nil))
	assert.Empty(t, StackTracerMessage(fmt.Errorf("plain")))

	// sentinels record where the package was initialised
	sentinel := StackTracerMessage(ErrConnection)
	assert.Contains(t, sentinel, "cardano-go.init")
	assert.NotContains(t, sentinel, "TestStackTracerMessage")

	err := mark(errors.Wrap(ErrConnection, "dial"), ErrSubmission)
	assert.Contains(t, StackTracerMessage(err), "TestStackTracerMessage")
}
