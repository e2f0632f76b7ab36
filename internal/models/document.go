package models

import (
	"fmt"
	"maps"
)

// Document is a unit of retrievable text. Metadata values are scalars.
type Document struct {
	ID          string         `json:"id,omitempty"`
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata"`
}

// ScoredDocument is a search hit. Higher Score means more similar.
type ScoredDocument struct {
	Document
	Score float32 `json:"score"`
}

// MetadataString renders a metadata value the way every backend compares it.
func MetadataString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// StringMetadata flattens metadata for stores that only keep strings.
func (d Document) StringMetadata() map[string]string {
	out := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		out[k] = MetadataString(v)
	}
	return out
}

// WithMetadata returns a copy of d with extra metadata merged in.
func (d Document) WithMetadata(extra map[string]any) Document {
	meta := make(map[string]any, len(d.Metadata)+len(extra))
	maps.Copy(meta, d.Metadata)
	maps.Copy(meta, extra)
	d.Metadata = meta
	return d
}

type DistanceStrategy string

const (
	DistanceCosine       DistanceStrategy = "cosine"
	DistanceInnerProduct DistanceStrategy = "innerProduct"
	DistanceEuclidean    DistanceStrategy = "euclidean"
)

func ParseDistance(s string) (DistanceStrategy, error) {
	switch DistanceStrategy(s) {
	case "", DistanceCosine:
		return DistanceCosine, nil
	case DistanceInnerProduct, DistanceEuclidean:
		return DistanceStrategy(s), nil
	}
	return "", fmt.Errorf("unknown distance strategy %q", s)
}
