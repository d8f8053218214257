package utils

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// 向量相关错误
var (
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrMalformedEmbedding = errors.New("malformed embedding blob")
	ErrEmptyVector        = errors.New("empty vector")
	ErrZeroMagnitude      = errors.New("zero-magnitude vector")
	ErrNonFinite          = errors.New("vector has NaN or Inf component")
)

// EncodeEmbedding 编码为小端 float32 原始字节（无长度前缀）
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding 解码 EncodeEmbedding 的结果，维度由字节长度推出
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformedEmbedding, len(b))
	}
	n := len(b) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// IsFinite 所有分量都不是 NaN 或 Inf
func IsFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Magnitude 向量的 L2 范数
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity 余弦相似度 dot / (|a|*|b|)，结果限制在 [-1, 1]
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, ErrEmptyVector
	}
	var dot, na2, nb2 float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		if math.IsNaN(va) || math.IsInf(va, 0) || math.IsNaN(vb) || math.IsInf(vb, 0) {
			return 0, fmt.Errorf("%w: index %d", ErrNonFinite, i)
		}
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, ErrZeroMagnitude
	}
	sim := dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	if math.IsNaN(sim) {
		return 0, ErrNonFinite
	}
	return math.Max(-1, math.Min(1, sim)), nil
}
