package database

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

// EncodeVector packs a vector as little-endian float32 bytes. nil stays nil
// so the column stores NULL.
func EncodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector extracts a vector from its blob form.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding size: %d bytes is not a multiple of 4", len(blob))
	}
	dims := len(blob) / 4
	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}

// encodeProps stores properties as JSON text; empty maps store NULL.
func encodeProps(props map[string]any) (any, error) {
	if len(props) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	return string(b), nil
}

// decodeProps restores JSON properties, keeping integers as int64.
func decodeProps(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw.String))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	return apptype.NormalizeProperties(props)
}
