package relay

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"
	"time"
)

// DefaultDrainTimeout 是单次背压等待的默认上限。
const DefaultDrainTimeout = 10 * time.Second

// HashAlgorithm 是上传时可选的流式摘要算法。
type HashAlgorithm string

const (
	HashNone   HashAlgorithm = ""
	HashMD5    HashAlgorithm = "md5"
	HashSHA1   HashAlgorithm = "sha1"
	HashSHA128 HashAlgorithm = "sha128"
	HashSHA256 HashAlgorithm = "sha256"
)

// ParseHashAlgorithm 解析调用方传入的算法名，空串和 "none" 表示不计算摘要。
func ParseHashAlgorithm(raw string) (HashAlgorithm, error) {
	switch value := HashAlgorithm(strings.ToLower(strings.TrimSpace(raw))); value {
	case HashNone, "none":
		return HashNone, nil
	case HashMD5, HashSHA1, HashSHA128, HashSHA256:
		return value, nil
	default:
		return HashNone, fmt.Errorf("unsupported hash algorithm %q", raw)
	}
}

// New 返回对应的 hash.Hash，HashNone 返回 nil。
// sha128 没有独立的标准实现，按 SHA-1 计算。
func (h HashAlgorithm) New() hash.Hash {
	switch h {
	case HashMD5:
		return md5.New()
	case HashSHA1, HashSHA128:
		return sha1.New()
	case HashSHA256:
		return sha256.New()
	default:
		return nil
	}
}

// Policy 在一次中继开始后不可变。
type Policy struct {
	// Limit 为最大字节数，0 表示不限制。
	Limit int64
	Hash  HashAlgorithm
	// DrainTimeout 限制每一次背压等待，而不是整个上传。
	DrainTimeout time.Duration
}

// Validate 检查策略是否合法。
func (p Policy) Validate() error {
	if p.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if p.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must not be negative")
	}
	if _, err := ParseHashAlgorithm(string(p.Hash)); err != nil {
		return err
	}
	return nil
}

// Normalized 返回 Hash 规范化后的副本，例如 "SHA256" 变为 sha256、"none" 变为空。
// 无法识别的名称保持原样，由 Validate 报告。
func (p Policy) Normalized() Policy {
	if hash, err := ParseHashAlgorithm(string(p.Hash)); err == nil {
		p.Hash = hash
	}
	return p
}

func (p Policy) inspected() bool {
	return p.Limit > 0 || p.Hash != HashNone
}

func (p Policy) drainTimeout() time.Duration {
	if p.DrainTimeout <= 0 {
		return DefaultDrainTimeout
	}
	return p.DrainTimeout
}
