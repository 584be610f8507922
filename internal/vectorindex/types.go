// Package vectorindex wraps the Qdrant gRPC client for the image collection.
//
// One collection holds one point per indexed image: a 512-dim cosine vector
// plus a denormalized payload (filename, ocr_text, nid, delta) used for
// filtering at query time without touching the relational store.
package vectorindex

import (
	"errors"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// VectorSize is the dimensionality of the collection's vectors. It must
// match the encoder's embedding space.
const VectorSize = 512

// Sentinel errors for vector index operations.
var (
	// ErrNotFound is returned when no point matches a filename lookup.
	ErrNotFound = errors.New("point not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidFilter indicates an unknown delta filter value.
	ErrInvalidFilter = errors.New("invalid delta filter")
)

// Payload is the denormalized metadata attached to each point.
//
// Filename is the canonical storage-prefixed key and is unique across the
// collection. NID and Delta mirror the relational store and are overwritten
// by payload sync; they are nil until the first sync reaches the point.
type Payload struct {
	Filename string
	OCRText  string
	NID      *int64
	Delta    *float64
}

// Point is one entry of the image collection.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Scored is a search hit with its similarity score.
type Scored struct {
	Point
	Score float32
}

// DeltaFilter selects points by their denormalized delta payload field.
type DeltaFilter string

const (
	// DeltaAll applies no delta predicate.
	DeltaAll DeltaFilter = "alle"

	// DeltaZero keeps points with delta == 0.
	DeltaZero DeltaFilter = "0"

	// DeltaPositive keeps points with delta > 0.
	DeltaPositive DeltaFilter = ">0"
)

// Validate checks that the filter is one of the known values.
// The empty string is treated as DeltaAll.
func (d DeltaFilter) Validate() error {
	switch d {
	case "", DeltaAll, DeltaZero, DeltaPositive:
		return nil
	default:
		return ErrInvalidFilter
	}
}

// Filter is the predicate set applied to a similarity query.
type Filter struct {
	Delta DeltaFilter
}

// conditions translates the filter into Qdrant must-conditions.
// Delta predicates use numeric ranges so they match both integer and double
// payload encodings.
func (f Filter) conditions() []*qdrant.Condition {
	var conds []*qdrant.Condition
	switch f.Delta {
	case DeltaZero:
		conds = append(conds, deltaRange(&qdrant.Range{
			Gte: qdrant.PtrOf(0.0),
			Lte: qdrant.PtrOf(0.0),
		}))
	case DeltaPositive:
		conds = append(conds, deltaRange(&qdrant.Range{
			Gt: qdrant.PtrOf(0.0),
		}))
	}
	return conds
}

func deltaRange(r *qdrant.Range) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   "delta",
				Range: r,
			},
		},
	}
}

// filenameCondition matches the payload filename field exactly.
func filenameCondition(key string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: "filename",
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: key},
				},
			},
		},
	}
}

// toQdrantPayload converts a Payload to the wire representation.
// Nil NID/Delta are omitted so a fresh point carries only filename/ocr_text.
func toQdrantPayload(p Payload) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"filename": {Kind: &qdrant.Value_StringValue{StringValue: p.Filename}},
	}
	if p.OCRText != "" {
		payload["ocr_text"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.OCRText}}
	}
	if p.NID != nil {
		payload["nid"] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: *p.NID}}
	}
	if p.Delta != nil {
		payload["delta"] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: *p.Delta}}
	}
	return payload
}

// payloadFromQdrant converts a wire payload back to a Payload.
// Integer and double encodings of nid/delta are both accepted.
func payloadFromQdrant(m map[string]*qdrant.Value) Payload {
	var p Payload
	for key, v := range m {
		switch key {
		case "filename":
			p.Filename = v.GetStringValue()
		case "ocr_text":
			p.OCRText = v.GetStringValue()
		case "nid":
			switch kind := v.Kind.(type) {
			case *qdrant.Value_IntegerValue:
				p.NID = qdrant.PtrOf(kind.IntegerValue)
			case *qdrant.Value_DoubleValue:
				p.NID = qdrant.PtrOf(int64(kind.DoubleValue))
			}
		case "delta":
			switch kind := v.Kind.(type) {
			case *qdrant.Value_IntegerValue:
				p.Delta = qdrant.PtrOf(float64(kind.IntegerValue))
			case *qdrant.Value_DoubleValue:
				p.Delta = qdrant.PtrOf(kind.DoubleValue)
			}
		}
	}
	return p
}

// pointIDString extracts the string form of a Qdrant point id.
func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch pid := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return pid.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(pid.Num, 10)
	default:
		return ""
	}
}
