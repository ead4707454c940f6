package errclass

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_TypedNetworkError(t *testing.T) {
	err := &NetworkError{Err: errors.New("dial tcp: refused")}
	c := Classify(err, nil)
	require.NotNil(t, c)
	assert.Equal(t, KindNetwork, c.Kind)
	assert.True(t, c.Retriable)
	assert.Equal(t, Warn, c.Severity)
}

func TestClassify_HTTPStatusRetriableOnlyFor5xxAnd408_429(t *testing.T) {
	cases := []struct {
		status    int
		retriable bool
	}{
		{500, true},
		{502, true},
		{429, true},
		{408, true},
		{404, false},
		{400, false},
	}
	for _, tc := range cases {
		err := &HTTPStatusError{Status: tc.status}
		c := Classify(err, nil)
		assert.Equalf(t, tc.retriable, c.Retriable, "status %d", tc.status)
	}
}

func TestClassify_ConfigErrorDefaultsFatal(t *testing.T) {
	c := Classify(&ConfigError{Msg: "bad flow"}, nil)
	assert.Equal(t, Fatal, c.Severity)
}

func TestClassify_WrappedErrorStillClassifies(t *testing.T) {
	inner := &NetworkError{Err: errors.New("refused")}
	wrapped := fmt.Errorf("action failed: %w", inner)

	c := Classify(wrapped, nil)
	assert.Equal(t, KindNetwork, c.Kind)
}

func TestClassify_FreeformMessageFallsBackToSniffing(t *testing.T) {
	c := Classify(errors.New("request timeout waiting for upstream"), nil)
	assert.Equal(t, KindTimeout, c.Kind)
}

func TestClassify_UnknownForGenericMessage(t *testing.T) {
	c := Classify(errors.New("something odd happened"), nil)
	assert.Equal(t, KindUnknown, c.Kind)
}

func TestPolicy_OverridesDefault(t *testing.T) {
	p := DefaultPolicy()
	p[KindNetwork] = Fatal

	c := Classify(&NetworkError{Err: errors.New("x")}, p)
	assert.Equal(t, Fatal, c.Severity)
}
