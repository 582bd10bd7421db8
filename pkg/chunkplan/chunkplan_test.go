package chunkplan_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/chunkplan"
)

const mib = 1 << 20

// TestNewPartitionsRange 测试分片恰好划分 [0, size)，数量为 ceil(size/chunk).
func TestNewPartitionsRange(t *testing.T) {
	cases := []struct {
		size, chunk int64
		want        int
	}{
		{1, 5 * mib, 1},
		{5 * mib, 5 * mib, 1},
		{5*mib + 1, 5 * mib, 2},
		{12 * mib, 5 * mib, 3},
		{100, 7, 15},
		{7, 1, 7},
	}

	for _, tc := range cases {
		plan, err := chunkplan.New(tc.size, tc.chunk)
		require.NoError(t, err)
		require.Equal(t, tc.want, plan.Count(), "size=%d chunk=%d", tc.size, tc.chunk)

		var next int64
		for i, p := range plan.Parts {
			assert.Equal(t, i+1, p.Number)
			assert.Equal(t, next, p.Start)
			assert.Greater(t, p.End, p.Start)
			assert.LessOrEqual(t, p.Size(), tc.chunk)
			next = p.End
		}

		assert.Equal(t, tc.size, next)
	}
}

// TestTwelveMiBScenario 测试 12MiB 文件切分为 5、5、2 MiB 三个分片.
func TestTwelveMiBScenario(t *testing.T) {
	plan, err := chunkplan.New(12*mib, chunkplan.DefaultChunkSize)
	require.NoError(t, err)

	assert.Equal(t, int64(5*mib), plan.PartSize(1))
	assert.Equal(t, int64(5*mib), plan.PartSize(2))
	assert.Equal(t, int64(2*mib), plan.PartSize(3))
	assert.Zero(t, plan.PartSize(4))

	_, err = plan.Part(0)
	assert.ErrorIs(t, err, chunkplan.ErrPartNumber)
}

// TestNewErrors 测试非法参数.
func TestNewErrors(t *testing.T) {
	_, err := chunkplan.New(0, 5)
	assert.ErrorIs(t, err, chunkplan.ErrEmpty)

	_, err = chunkplan.New(10, 0)
	assert.ErrorIs(t, err, chunkplan.ErrChunkSize)

	_, err = chunkplan.New(chunkplan.MaxParts+1, 1)
	assert.ErrorIs(t, err, chunkplan.ErrTooManyParts)

	_, err = chunkplan.New(chunkplan.MaxParts, 1)
	assert.NoError(t, err)
}

// TestFingerprintsDeterministic 测试指纹与逐段哈希一致且可重复.
func TestFingerprintsDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte("syncvault-"), 1000) // 10000 bytes

	plan, err := chunkplan.New(int64(len(data)), 4096)
	require.NoError(t, err)

	first, err := plan.Fingerprints(bytes.NewReader(data))
	require.NoError(t, err)

	second, err := plan.Fingerprints(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first.Parts, 3)
	assert.Equal(t, chunkplan.FingerprintBytes(data[0:4096]), first.Parts[0])
	assert.Equal(t, chunkplan.FingerprintBytes(data[8192:]), first.Parts[2])
	assert.Equal(t, chunkplan.FingerprintBytes(data), first.Whole)

	one, err := plan.PartFingerprint(bytes.NewReader(data), 2)
	require.NoError(t, err)
	assert.Equal(t, first.Parts[1], one)

	// 改动一个字节只影响所在分片
	data[5000] ^= 0xff

	changed, err := plan.Fingerprints(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, first.Parts[0], changed.Parts[0])
	assert.NotEqual(t, first.Parts[1], changed.Parts[1])
	assert.Equal(t, first.Parts[2], changed.Parts[2])
	assert.NotEqual(t, first.Whole, changed.Whole)
}

// TestFingerprintsShortReader 测试数据少于计划大小时报错.
func TestFingerprintsShortReader(t *testing.T) {
	plan, err := chunkplan.New(100, 40)
	require.NoError(t, err)

	_, err = plan.Fingerprints(bytes.NewReader(make([]byte, 90)))
	assert.Error(t, err)
}

// TestChecksumHeader 测试十六进制指纹转 base64 校验头.
func TestChecksumHeader(t *testing.T) {
	raw := sha256.Sum256([]byte("part"))
	fp := hex.EncodeToString(raw[:])

	got, err := chunkplan.ChecksumHeader(fp)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw[:]), got)
	assert.True(t, chunkplan.ValidFingerprint(fp))

	_, err = chunkplan.ChecksumHeader("abc")
	assert.Error(t, err)
	assert.False(t, chunkplan.ValidFingerprint("zz"))
}
