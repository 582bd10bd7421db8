// Package chunkplan 将文件按固定大小切分为分片，并计算每个分片与整个对象的 SHA-256 指纹.
//
// 相同的 (size, chunkSize) 总是得到相同的分片边界，断点续传依赖这一点.
//
// Example:
//
//	plan, err := chunkplan.New(12<<20, chunkplan.DefaultChunkSize)
//	if err != nil {
//		return err
//	}
//
//	fps, err := plan.Fingerprints(f) // f 实现 io.ReaderAt
//	fmt.Println(plan.Count(), fps.Parts[0], fps.Whole)
package chunkplan

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

const (
	// DefaultChunkSize 默认分片大小，也是 S3 对非末尾分片的最小要求.
	DefaultChunkSize int64 = 5 * 1024 * 1024
	// MaxParts S3 单次分片上传允许的最大分片数.
	MaxParts = 10000
)

var (
	ErrEmpty        = errors.New("chunkplan: size must be positive")
	ErrChunkSize    = errors.New("chunkplan: chunk size must be positive")
	ErrTooManyParts = errors.New("chunkplan: too many parts")
	ErrPartNumber   = errors.New("chunkplan: part number out of range")
)

// Part 一个分片的字节范围，[Start, End)，Number 从 1 开始.
type Part struct {
	Number int   `json:"partNumber"`
	Start  int64 `json:"start"`
	End    int64 `json:"end"`
}

// Size 分片字节数.
func (p Part) Size() int64 {
	return p.End - p.Start
}

// Plan 一个文件的分片方案.
type Plan struct {
	Size      int64
	ChunkSize int64
	Parts     []Part
}

// Fingerprints 分片指纹与整体指纹，均为小写十六进制 SHA-256.
type Fingerprints struct {
	Parts []string
	Whole string
}

// New 按 chunkSize 切分 size 字节，返回连续、无重叠、覆盖 [0, size) 的分片.
func New(size, chunkSize int64) (Plan, error) {
	if size <= 0 {
		return Plan{}, ErrEmpty
	}

	if chunkSize <= 0 {
		return Plan{}, ErrChunkSize
	}

	n := (size + chunkSize - 1) / chunkSize
	if n > MaxParts {
		return Plan{}, fmt.Errorf("%w: %d parts of %d bytes (max %d)", ErrTooManyParts, n, chunkSize, MaxParts)
	}

	parts := make([]Part, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * chunkSize
		parts = append(parts, Part{
			Number: int(i) + 1,
			Start:  start,
			End:    min(start+chunkSize, size),
		})
	}

	return Plan{Size: size, ChunkSize: chunkSize, Parts: parts}, nil
}

// Count 分片数量.
func (p Plan) Count() int {
	return len(p.Parts)
}

// Part 返回编号为 n 的分片.
func (p Plan) Part(n int) (Part, error) {
	if n < 1 || n > len(p.Parts) {
		return Part{}, fmt.Errorf("%w: %d not in 1..%d", ErrPartNumber, n, len(p.Parts))
	}

	return p.Parts[n-1], nil
}

// PartSize 返回编号为 n 的分片大小，越界时为 0.
func (p Plan) PartSize(n int) int64 {
	part, err := p.Part(n)
	if err != nil {
		return 0
	}

	return part.Size()
}

// Fingerprints 顺序读取 r 一遍，同时计算每个分片和整个对象的指纹.
func (p Plan) Fingerprints(r io.ReaderAt) (Fingerprints, error) {
	whole := sha256.New()
	out := Fingerprints{Parts: make([]string, 0, len(p.Parts))}

	for _, part := range p.Parts {
		h := sha256.New()
		if err := copyRange(io.MultiWriter(h, whole), r, part); err != nil {
			return Fingerprints{}, err
		}

		out.Parts = append(out.Parts, sum(h))
	}

	out.Whole = sum(whole)

	return out, nil
}

// PartFingerprint 只计算单个分片的指纹.
func (p Plan) PartFingerprint(r io.ReaderAt, n int) (string, error) {
	part, err := p.Part(n)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if err := copyRange(h, r, part); err != nil {
		return "", err
	}

	return sum(h), nil
}

func copyRange(w io.Writer, r io.ReaderAt, part Part) error {
	n, err := io.Copy(w, io.NewSectionReader(r, part.Start, part.Size()))
	if err != nil {
		return fmt.Errorf("read part %d: %w", part.Number, err)
	}

	if n != part.Size() {
		return fmt.Errorf("read part %d: %w", part.Number, io.ErrUnexpectedEOF)
	}

	return nil
}

// FingerprintBytes 计算一段字节的十六进制 SHA-256.
func FingerprintBytes(b []byte) string {
	s := sha256.Sum256(b)

	return hex.EncodeToString(s[:])
}

// ChecksumHeader 将十六进制指纹转换为 x-amz-checksum-sha256 请求头使用的 base64 形式.
func ChecksumHeader(hexFingerprint string) (string, error) {
	raw, err := hex.DecodeString(hexFingerprint)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("chunkplan: invalid sha256 fingerprint %q", hexFingerprint)
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// ValidFingerprint 判断是否为 64 位十六进制 SHA-256.
func ValidFingerprint(s string) bool {
	if len(s) != 2*sha256.Size {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}

func sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
