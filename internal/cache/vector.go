package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector encodes a float32 vector as little-endian bytes.
func EncodeVector(vector []float32) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		// binary.Write cannot fail for a []float32 into a bytes.Buffer
		panic(fmt.Sprintf("encode vector: %v", err))
	}
	return buf.Bytes()
}

// DecodeVector decodes bytes produced by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data length: %d", len(data))
	}
	vector := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &vector); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vector, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(v []float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n == 0 {
		return v
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}
