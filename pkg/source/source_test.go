package source

import (
	"math"
	"strconv"
	"testing"

	"github.com/LeeDigitalWorks/gasmeter/pkg/gasmeter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    gasmeter.Gas
		wantErr error
	}{
		{name: "plain", payload: "42", want: 42},
		{name: "whitespace", payload: "  7\n", want: 7},
		{name: "zero", payload: "0", want: 0},
		{name: "max", payload: strconv.FormatUint(math.MaxUint64, 10), want: math.MaxUint64},
		{name: "json", payload: `{"gas": 1000}`, want: 1000},
		{name: "json extra fields", payload: `{"gas": 3, "op": "sstore"}`, want: 3},
		{name: "empty", payload: "", wantErr: ErrEmptyPayload},
		{name: "blank", payload: " \t", wantErr: ErrEmptyPayload},
		{name: "negative", payload: "-1", wantErr: ErrInvalidPayload},
		{name: "overflow", payload: "18446744073709551616", wantErr: ErrInvalidPayload},
		{name: "text", payload: "lots", wantErr: ErrInvalidPayload},
		{name: "json missing field", payload: `{"cost": 3}`, wantErr: ErrInvalidPayload},
		{name: "json negative", payload: `{"gas": -3}`, wantErr: ErrInvalidPayload},
		{name: "json broken", payload: `{"gas":`, wantErr: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseGas([]byte(tt.payload))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate(), "disabled sources are not validated")

	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.InitialOffset = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, OffsetNewest, cfg.Kafka.InitialOffset)

	cfg.Redis.Enabled = true
	cfg.Redis.DialTimeout = 0
	require.NoError(t, cfg.Validate())
	assert.Positive(t, cfg.Redis.DialTimeout)
}
