package vectorindex

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaFilterValidate(t *testing.T) {
	assert.NoError(t, DeltaFilter("").Validate())
	assert.NoError(t, DeltaAll.Validate())
	assert.NoError(t, DeltaZero.Validate())
	assert.NoError(t, DeltaPositive.Validate())
	assert.ErrorIs(t, DeltaFilter("negative").Validate(), ErrInvalidFilter)
}

func TestFilterConditions(t *testing.T) {
	t.Run("alle has no conditions", func(t *testing.T) {
		assert.Empty(t, Filter{Delta: DeltaAll}.conditions())
		assert.Empty(t, Filter{}.conditions())
	})

	t.Run("zero builds closed range", func(t *testing.T) {
		conds := Filter{Delta: DeltaZero}.conditions()
		require.Len(t, conds, 1)
		field := conds[0].GetField()
		require.NotNil(t, field)
		assert.Equal(t, "delta", field.Key)
		require.NotNil(t, field.Range)
		assert.Equal(t, 0.0, field.Range.GetGte())
		assert.Equal(t, 0.0, field.Range.GetLte())
		assert.Nil(t, field.Range.Gt)
	})

	t.Run("positive builds open range", func(t *testing.T) {
		conds := Filter{Delta: DeltaPositive}.conditions()
		require.Len(t, conds, 1)
		field := conds[0].GetField()
		require.NotNil(t, field)
		assert.Equal(t, "delta", field.Key)
		require.NotNil(t, field.Range)
		assert.Equal(t, 0.0, field.Range.GetGt())
		assert.Nil(t, field.Range.Gte)
	})
}

func TestFilenameCondition(t *testing.T) {
	cond := filenameCondition("totenbilder/a.jpg")
	field := cond.GetField()
	require.NotNil(t, field)
	assert.Equal(t, "filename", field.Key)
	assert.Equal(t, "totenbilder/a.jpg", field.Match.GetKeyword())
}

func TestPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
	}{
		{
			name:    "filename only",
			payload: Payload{Filename: "totenbilder/a.jpg"},
		},
		{
			name: "full payload",
			payload: Payload{
				Filename: "totenbilder/b.jpg",
				OCRText:  "Ruhe in Frieden",
				NID:      qdrant.PtrOf(int64(42)),
				Delta:    qdrant.PtrOf(3.5),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := payloadFromQdrant(toQdrantPayload(tt.payload))
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestToQdrantPayloadOmitsUnset(t *testing.T) {
	wire := toQdrantPayload(Payload{Filename: "totenbilder/a.jpg"})
	assert.Contains(t, wire, "filename")
	assert.NotContains(t, wire, "ocr_text")
	assert.NotContains(t, wire, "nid")
	assert.NotContains(t, wire, "delta")
}

func TestPayloadFromQdrantIntegerDelta(t *testing.T) {
	// Points written before the double encoding may carry integer deltas.
	wire := map[string]*qdrant.Value{
		"filename": {Kind: &qdrant.Value_StringValue{StringValue: "totenbilder/a.jpg"}},
		"nid":      {Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}},
		"delta":    {Kind: &qdrant.Value_IntegerValue{IntegerValue: 2}},
	}
	p := payloadFromQdrant(wire)
	require.NotNil(t, p.NID)
	require.NotNil(t, p.Delta)
	assert.Equal(t, int64(7), *p.NID)
	assert.Equal(t, 2.0, *p.Delta)
}

func TestPointIDString(t *testing.T) {
	assert.Equal(t, "", pointIDString(nil))
	assert.Equal(t, "abc-123", pointIDString(qdrant.NewIDUUID("abc-123")))
	assert.Equal(t, "99", pointIDString(qdrant.NewIDNum(99)))
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Host: "localhost", Port: 6334, Collection: "totenbilder"}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Host = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = valid
	bad.Port = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = valid
	bad.Collection = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.NotZero(t, cfg.RetryBackoff)
}
